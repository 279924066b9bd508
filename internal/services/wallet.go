package services

import (
	"strings"
	"unicode/utf8"
)

type WalletClass int

const (
	NotWallet WalletClass = iota
	IsWallet
)

func (c WalletClass) String() string {
	if c == IsWallet {
		return "wallet"
	}
	return "not_wallet"
}

const minWalletLength = 20

// Hex prefix, segwit prefix and the base58 legacy prefixes.
var walletMarkers = []string{"0x", "bc1", "1", "3"}

// ClassifyWallet guesses whether a free-text message is a wallet address.
// It is a heuristic, not a validator: false positives and negatives are expected.
func ClassifyWallet(text string) WalletClass {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < minWalletLength {
		return NotWallet
	}
	for _, marker := range walletMarkers {
		if strings.Contains(text, marker) {
			return IsWallet
		}
	}
	return NotWallet
}
