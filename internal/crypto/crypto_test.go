package crypto

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known development key (first Hardhat account).
const devKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestKeystoreRoundTrip(t *testing.T) {
	blob, err := EncryptKey(devKey, "hunter2")
	require.NoError(t, err)
	assert.Contains(t, string(blob), "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

	pk, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", ethcrypto.PubkeyToAddress(pk.PublicKey).Hex())

	_, err = DecryptKey(blob, "wrong")
	assert.ErrorIs(t, err, ErrWrongPassword)
}

func TestEncryptKeyRejectsBadInput(t *testing.T) {
	_, err := EncryptKey(devKey, "")
	assert.Error(t, err)
	_, err = EncryptKey("zz", "pw")
	assert.Error(t, err)
}

func TestLoadKeyPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "operator.json")
	blob, err := EncryptKey(devKey, "pw")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	pk, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", ethcrypto.PubkeyToAddress(pk.PublicKey).Hex())

	other, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	raw := common.Bytes2Hex(ethcrypto.FromECDSA(other))
	pk, err = LoadKey(KeyConfig{RawPrivateKey: raw, EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, ethcrypto.PubkeyToAddress(other.PublicKey), ethcrypto.PubkeyToAddress(pk.PublicKey))

	_, err = LoadKey(KeyConfig{})
	assert.Error(t, err)
}

func TestTxSignerRecoversSender(t *testing.T) {
	pk, err := LoadKey(KeyConfig{RawPrivateKey: devKey})
	require.NoError(t, err)
	s, err := NewTxSigner(pk, big.NewInt(84532))
	require.NoError(t, err)

	to := common.HexToAddress("0x0000000000000000000000000000000000000001")
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(84532),
		Nonce:     1,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
		Gas:       21000,
		To:        &to,
		Value:     big.NewInt(0),
	})
	signed, err := s.SignTx(tx)
	require.NoError(t, err)

	from, err := s.Sender(signed)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), from)

	_, err = NewTxSigner(pk, big.NewInt(0))
	assert.Error(t, err)
}
