// Package chain mirrors markets to an EVM chain: one binary-market contract
// per market, bets and resolution as contract transactions.
package chain

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/predictx/internal/crypto"
	"github.com/alanyoungcy/predictx/internal/domain"
)

//go:embed binary_market.abi.json
var BinaryMarketABI string

// Client is the subset of ethclient.Client the backend uses.
type Client interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Backend implements domain.SettlementBackend over JSON-RPC.
type Backend struct {
	client       Client
	signer       *crypto.TxSigner
	abi          abi.ABI
	pollInterval time.Duration
	logger       *slog.Logger
}

// Dial connects to rpcURL and checks that the node serves chainID.
func Dial(ctx context.Context, rpcURL string, signer *crypto.TxSigner, logger *slog.Logger) (*Backend, *ethclient.Client, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("chain: dial: %w", err)
	}
	id, err := ec.ChainID(ctx)
	if err != nil {
		ec.Close()
		return nil, nil, fmt.Errorf("chain: chain id: %w", err)
	}
	if id.Cmp(signer.ChainID()) != 0 {
		ec.Close()
		return nil, nil, fmt.Errorf("chain: node serves chain %s, signer configured for %s", id, signer.ChainID())
	}
	b, err := New(ec, signer, BinaryMarketABI, logger)
	if err != nil {
		ec.Close()
		return nil, nil, err
	}
	return b, ec, nil
}

// New builds a backend for the contract described by abiJSON.
func New(client Client, signer *crypto.TxSigner, abiJSON string, logger *slog.Logger) (*Backend, error) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("chain: parse abi: %w", err)
	}
	return &Backend{
		client:       client,
		signer:       signer,
		abi:          parsed,
		pollInterval: 2 * time.Second,
		logger:       logger.With(slog.String("component", "chain")),
	}, nil
}

// WithPollInterval sets how often receipts are polled.
func (b *Backend) WithPollInterval(d time.Duration) *Backend {
	if d > 0 {
		b.pollInterval = d
	}
	return b
}

// LoadBytecode reads a hex-encoded contract creation bytecode file.
func LoadBytecode(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("chain: read bytecode: %w", err)
	}
	code := common.FromHex(strings.TrimSpace(string(raw)))
	if len(code) == 0 {
		return nil, fmt.Errorf("chain: bytecode file %s is empty", path)
	}
	return code, nil
}

// Deploy creates a contract and waits for it to be mined. spec.ABI is
// ignored when empty; the backend's ABI is used for the constructor.
func (b *Backend) Deploy(ctx context.Context, spec domain.ContractSpec, args ...any) (string, error) {
	if len(spec.Bytecode) == 0 {
		return "", fmt.Errorf("chain: deploy %s: no bytecode", spec.Name)
	}
	contract := b.abi
	if spec.ABI != "" {
		parsed, err := abi.JSON(strings.NewReader(spec.ABI))
		if err != nil {
			return "", fmt.Errorf("chain: deploy %s: parse abi: %w", spec.Name, err)
		}
		contract = parsed
	}

	coerced, err := coerceArgs(contract.Constructor.Inputs, args)
	if err != nil {
		return "", fmt.Errorf("chain: deploy %s: %w", spec.Name, err)
	}
	input, err := contract.Pack("", coerced...)
	if err != nil {
		return "", fmt.Errorf("chain: deploy %s: pack: %w", spec.Name, err)
	}
	data := append(append([]byte{}, spec.Bytecode...), input...)

	receipt, err := b.transact(ctx, nil, data)
	if err != nil {
		return "", fmt.Errorf("chain: deploy %s: %w", spec.Name, err)
	}
	addr := receipt.ContractAddress.Hex()
	b.logger.InfoContext(ctx, "contract deployed",
		slog.String("contract", spec.Name),
		slog.String("address", addr),
		slog.String("tx", receipt.TxHash.Hex()),
	)
	return addr, nil
}

// Call invokes method on the contract at address. View methods return their
// unpacked outputs; state-changing methods return the mined tx hash.
func (b *Backend) Call(ctx context.Context, address, method string, args ...any) ([]any, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("chain: call %s: invalid address %q", method, address)
	}
	m, ok := b.abi.Methods[method]
	if !ok {
		return nil, fmt.Errorf("chain: unknown method %q", method)
	}
	coerced, err := coerceArgs(m.Inputs, args)
	if err != nil {
		return nil, fmt.Errorf("chain: call %s: %w", method, err)
	}
	data, err := b.abi.Pack(method, coerced...)
	if err != nil {
		return nil, fmt.Errorf("chain: call %s: pack: %w", method, err)
	}
	to := common.HexToAddress(address)

	if m.IsConstant() {
		out, err := b.client.CallContract(ctx, ethereum.CallMsg{From: b.signer.Address(), To: &to, Data: data}, nil)
		if err != nil {
			return nil, fmt.Errorf("chain: call %s: %w", method, err)
		}
		values, err := b.abi.Unpack(method, out)
		if err != nil {
			return nil, fmt.Errorf("chain: call %s: unpack: %w", method, err)
		}
		return values, nil
	}

	receipt, err := b.transact(ctx, &to, data)
	if err != nil {
		return nil, fmt.Errorf("chain: call %s: %w", method, err)
	}
	b.logger.DebugContext(ctx, "contract call mined",
		slog.String("method", method),
		slog.String("address", address),
		slog.String("tx", receipt.TxHash.Hex()),
	)
	return []any{receipt.TxHash.Hex()}, nil
}

// transact signs and sends a dynamic-fee transaction then waits for a
// successful receipt.
func (b *Backend) transact(ctx context.Context, to *common.Address, data []byte) (*types.Receipt, error) {
	from := b.signer.Address()
	nonce, err := b.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	tip, err := b.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas tip: %w", err)
	}
	head, err := b.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("latest header: %w", err)
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(baseFee(head), big.NewInt(2)))

	gas, err := b.client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: to, Data: data})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}
	gas += gas / 5

	tx, err := b.signer.SignTx(types.NewTx(&types.DynamicFeeTx{
		ChainID:   b.signer.ChainID(),
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        to,
		Value:     new(big.Int),
		Data:      data,
	}))
	if err != nil {
		return nil, err
	}
	if err := b.client.SendTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	return b.waitMined(ctx, tx.Hash())
}

func (b *Backend) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()
	for {
		receipt, err := b.client.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return nil, fmt.Errorf("tx %s reverted", hash.Hex())
			}
			return receipt, nil
		case !errors.Is(err, ethereum.NotFound):
			return nil, fmt.Errorf("receipt %s: %w", hash.Hex(), err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func baseFee(h *types.Header) *big.Int {
	if h == nil || h.BaseFee == nil {
		return new(big.Int)
	}
	return h.BaseFee
}

var _ domain.SettlementBackend = (*Backend)(nil)
