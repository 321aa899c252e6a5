package solana

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
)

// Wallet holds the trading keypair and signs transaction blobs. Key custody
// is out of scope: the keypair is read from a plain JSON keyfile (the common
// 64-byte array format) that the operator manages.
type Wallet struct {
	priv    ed25519.PrivateKey
	address string
}

// LoadWallet reads an ed25519 keypair from the JSON keyfile at path.
func LoadWallet(path string) (*Wallet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("wallet: read keyfile: %w", err)
	}

	var bytes []byte
	if err := json.Unmarshal(raw, &bytes); err != nil {
		return nil, fmt.Errorf("wallet: parse keyfile: %w", err)
	}
	if len(bytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("wallet: keyfile has %d bytes, want %d", len(bytes), ed25519.PrivateKeySize)
	}

	priv := ed25519.PrivateKey(bytes)
	pub := priv.Public().(ed25519.PublicKey)
	return &Wallet{priv: priv, address: base58Encode(pub)}, nil
}

// PublicKey returns the wallet address in base58.
func (w *Wallet) PublicKey() string {
	return w.address
}

// SignTransaction signs an unsigned base64 transaction in the standard wire
// layout (compact signature count, signature slots, message) and returns the
// signed blob plus the base58 signature. Only single-signer transactions are
// supported, which is all the swap builder produces.
func (w *Wallet) SignTransaction(unsignedTx string) (signedTx, signature string, err error) {
	data, err := base64.StdEncoding.DecodeString(unsignedTx)
	if err != nil {
		return "", "", fmt.Errorf("wallet: decode transaction: %w", err)
	}
	if len(data) < 1+ed25519.SignatureSize {
		return "", "", fmt.Errorf("wallet: transaction too short (%d bytes)", len(data))
	}

	// Compact-u16 signature count; single-signer is always one byte.
	numSigs := int(data[0])
	if numSigs != 1 {
		return "", "", fmt.Errorf("wallet: transaction requires %d signatures, only single-signer supported", numSigs)
	}

	msgStart := 1 + ed25519.SignatureSize
	if len(data) <= msgStart {
		return "", "", fmt.Errorf("wallet: transaction has no message")
	}

	sig := ed25519.Sign(w.priv, data[msgStart:])
	copy(data[1:msgStart], sig)

	return base64.StdEncoding.EncodeToString(data), base58Encode(sig), nil
}

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// base58Encode encodes bytes in the chain's canonical address alphabet.
func base58Encode(b []byte) string {
	x := new(big.Int).SetBytes(b)
	radix := big.NewInt(58)
	mod := new(big.Int)

	var out []byte
	for x.Sign() > 0 {
		x.DivMod(x, radix, mod)
		out = append(out, base58Alphabet[mod.Int64()])
	}
	// Leading zero bytes map to the alphabet's zero character.
	for _, c := range b {
		if c != 0 {
			break
		}
		out = append(out, base58Alphabet[0])
	}
	// Reverse.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}
