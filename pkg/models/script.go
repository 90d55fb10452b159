package models

import "encoding/hex"

// IsP2PKScript reports whether a raw output script is pay-to-public-key:
// <pubkey> OP_CHECKSIG with a 33- or 65-byte key.
func IsP2PKScript(scriptHex string) bool {
	script, err := hex.DecodeString(scriptHex)
	if err != nil {
		return false
	}
	if len(script) == 67 && script[0] == 0x41 && script[66] == 0xAC {
		return true
	}
	if len(script) == 35 && script[0] == 0x21 && script[34] == 0xAC {
		return true
	}
	return false
}

// ExtractP2PKPublicKey returns the hex public key from a P2PK script, or ""
// when the script is not P2PK. P2PK outputs carry no address, so the exposed
// key doubles as the registry key for them.
func ExtractP2PKPublicKey(scriptHex string) string {
	script, err := hex.DecodeString(scriptHex)
	if err != nil {
		return ""
	}
	if len(script) == 67 && script[0] == 0x41 {
		return hex.EncodeToString(script[1:66])
	}
	if len(script) == 35 && script[0] == 0x21 {
		return hex.EncodeToString(script[1:34])
	}
	return ""
}
