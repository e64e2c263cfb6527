package chain

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictx/internal/crypto"
	"github.com/alanyoungcy/predictx/internal/domain"
)

const devKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var contractAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

type fakeClient struct {
	mu       sync.Mutex
	sent     []*types.Transaction
	polls    int
	reverted bool
	callOut  []byte
}

func (f *fakeClient) PendingNonceAt(context.Context, common.Address) (uint64, error) { return 7, nil }
func (f *fakeClient) SuggestGasTipCap(context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (f *fakeClient) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(10)}, nil
}

func (f *fakeClient) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}

func (f *fakeClient) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

// TransactionReceipt reports the tx as pending once before it is mined.
func (f *fakeClient) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.polls%2 == 1 {
		return nil, ethereum.NotFound
	}
	status := types.ReceiptStatusSuccessful
	if f.reverted {
		status = types.ReceiptStatusFailed
	}
	return &types.Receipt{Status: status, TxHash: hash, ContractAddress: contractAddr}, nil
}

func (f *fakeClient) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return f.callOut, nil
}

func newBackend(t *testing.T, client Client) (*Backend, *crypto.TxSigner) {
	t.Helper()
	key, err := crypto.LoadKey(crypto.KeyConfig{RawPrivateKey: devKey})
	require.NoError(t, err)
	signer, err := crypto.NewTxSigner(key, big.NewInt(31337))
	require.NoError(t, err)
	b, err := New(client, signer, BinaryMarketABI, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return b.WithPollInterval(time.Millisecond), signer
}

func TestDeploySignsCreationTx(t *testing.T) {
	fc := &fakeClient{}
	b, signer := newBackend(t, fc)
	code := []byte{0x60, 0x80, 0x60, 0x40}

	addr, err := b.Deploy(context.Background(), domain.ContractSpec{Name: "BinaryMarket", Bytecode: code},
		"Will BTC reach $52,500.00 by 2026-03-02?",
		big.NewInt(1772409600),
		"0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		big.NewInt(7e17),
		big.NewInt(3e17),
	)
	require.NoError(t, err)
	assert.Equal(t, contractAddr.Hex(), addr)

	require.Len(t, fc.sent, 1)
	tx := fc.sent[0]
	assert.Nil(t, tx.To())
	assert.True(t, bytes.HasPrefix(tx.Data(), code))
	assert.EqualValues(t, 7, tx.Nonce())
	assert.EqualValues(t, 120_000, tx.Gas())
	assert.Equal(t, big.NewInt(21), tx.GasFeeCap())

	from, err := signer.Sender(tx)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), from)
}

func TestDeployRejectsBadArgs(t *testing.T) {
	b, _ := newBackend(t, &fakeClient{})
	spec := domain.ContractSpec{Name: "BinaryMarket", Bytecode: []byte{0x00}}

	_, err := b.Deploy(context.Background(), spec, "q", big.NewInt(1), "not-an-address", big.NewInt(1), big.NewInt(1))
	assert.ErrorContains(t, err, "invalid address")

	_, err = b.Deploy(context.Background(), spec, "q")
	assert.ErrorContains(t, err, "want 5 args")

	_, err = b.Deploy(context.Background(), domain.ContractSpec{Name: "BinaryMarket"})
	assert.ErrorContains(t, err, "no bytecode")
}

func TestCallSendsTransactionForStateChange(t *testing.T) {
	fc := &fakeClient{}
	b, _ := newBackend(t, fc)

	out, err := b.Call(context.Background(), contractAddr.Hex(), "buyYes", big.NewInt(2_500_000))
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Len(t, fc.sent, 1)
	assert.Equal(t, fc.sent[0].Hash().Hex(), out[0])
	assert.Equal(t, contractAddr, *fc.sent[0].To())

	_, err = b.Call(context.Background(), contractAddr.Hex(), "resolve", true)
	require.NoError(t, err)
	assert.Len(t, fc.sent, 2)
}

func TestCallRevertedTx(t *testing.T) {
	b, _ := newBackend(t, &fakeClient{reverted: true})
	_, err := b.Call(context.Background(), contractAddr.Hex(), "resolve", false)
	assert.ErrorContains(t, err, "reverted")
}

func TestCallViewUnpacks(t *testing.T) {
	parsed, err := abi.JSON(bytes.NewReader([]byte(BinaryMarketABI)))
	require.NoError(t, err)
	packed, err := parsed.Methods["yesPrice"].Outputs.Pack(big.NewInt(7e17))
	require.NoError(t, err)

	fc := &fakeClient{callOut: packed}
	b, _ := newBackend(t, fc)
	out, err := b.Call(context.Background(), contractAddr.Hex(), "yesPrice")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, big.NewInt(7e17), out[0])
	assert.Empty(t, fc.sent)
}

func TestCallUnknownMethodAndAddress(t *testing.T) {
	b, _ := newBackend(t, &fakeClient{})
	_, err := b.Call(context.Background(), contractAddr.Hex(), "withdraw")
	assert.ErrorContains(t, err, "unknown method")
	_, err = b.Call(context.Background(), "0xabc", "resolve", true)
	assert.ErrorContains(t, err, "invalid address")
}

func TestWaitMinedHonoursContext(t *testing.T) {
	b, _ := newBackend(t, &pendingClient{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := b.Call(ctx, contractAddr.Hex(), "resolve", true)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type pendingClient struct{ fakeClient }

func (p *pendingClient) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return nil, ethereum.NotFound
}

func TestCoerceArgs(t *testing.T) {
	parsed, err := abi.JSON(bytes.NewReader([]byte(BinaryMarketABI)))
	require.NoError(t, err)
	inputs := parsed.Constructor.Inputs

	out, err := coerceArgs(inputs, []any{"q", int64(10), "0x036CbD53842c5426634e7929541eC2318f3dCF7e", "500000000000000000", 5})
	require.NoError(t, err)
	assert.IsType(t, common.Address{}, out[2])
	assert.Equal(t, big.NewInt(10), out[1])
	assert.Equal(t, "500000000000000000", out[3].(*big.Int).String())
	assert.Equal(t, big.NewInt(5), out[4])

	_, err = coerceArgs(inputs, []any{"q", big.NewInt(-1), contractAddr, big.NewInt(1), big.NewInt(1)})
	assert.ErrorContains(t, err, "negative")

	_, err = coerceArgs(parsed.Methods["resolve"].Inputs, []any{"yes"})
	assert.ErrorContains(t, err, "cannot use string")
}
