package wallet

import "errors"

var (
	// ErrInvalidMnemonic indicates the mnemonic fails BIP39 validation.
	ErrInvalidMnemonic = errors.New("wallet: invalid BIP39 mnemonic")

	// ErrInvalidEntropy indicates entropy bits is not 128 or 256.
	ErrInvalidEntropy = errors.New("wallet: entropy bits must be 128 or 256")

	// ErrInvalidSeed indicates the seed is empty.
	ErrInvalidSeed = errors.New("wallet: invalid seed")

	// ErrDecryptionFailed indicates a wrong passphrase or a damaged key file.
	ErrDecryptionFailed = errors.New("wallet: decryption failed (wrong passphrase or corrupted key file)")

	// ErrChecksumMismatch indicates the decrypted seed fails its checksum.
	ErrChecksumMismatch = errors.New("wallet: seed checksum mismatch")

	// ErrDerivationFailed indicates BIP32 key derivation failed.
	ErrDerivationFailed = errors.New("wallet: key derivation failed")

	// ErrInvalidKeyFile indicates a key file cannot be decoded.
	ErrInvalidKeyFile = errors.New("wallet: invalid key file")

	// ErrNetworkMismatch indicates a key file was created for another network.
	ErrNetworkMismatch = errors.New("wallet: key file network mismatch")
)
