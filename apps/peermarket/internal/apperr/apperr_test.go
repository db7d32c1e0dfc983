package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestTranslateNilError(t *testing.T) {
	if got := Translate(KindOffer, "failed to create offer", nil); got != nil {
		t.Errorf("Expected nil for nil error, got %v", got)
	}
}

func TestTranslateKeepsExistingClassification(t *testing.T) {
	original := New(KindValidation, "amount below offer minimum")

	translated := Translate(KindTrade, "failed to open trade", fmt.Errorf("submit: %w", original))

	if translated.Kind != KindValidation {
		t.Errorf("Expected kind %s to survive translation, got %s", KindValidation, translated.Kind)
	}
	if translated.Message != original.Message {
		t.Errorf("Expected original message to survive, got %q", translated.Message)
	}
}

func TestTranslateLedgerPatterns(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		fallback Kind
		want     Kind
	}{
		{"insufficient token balance", errors.New("Error processing Instruction 0: insufficient funds"), KindTrade, KindToken},
		{"insufficient fee balance", errors.New("Transaction simulation failed: insufficient lamports 100, need 5000"), KindOffer, KindWallet},
		{"missing token account", errors.New("could not find account"), KindTrade, KindToken},
		{"signature rejected", errors.New("Transaction signature verification failure"), KindOffer, KindWallet},
		{"expired blockhash", errors.New("blockhash not found"), KindTrade, KindWallet},
		{"trade status guard", errors.New("custom program error: InvalidTradeStatus"), KindTrade, KindTrade},
		{"unauthorized trader", errors.New("custom program error: UnauthorizedTrader"), KindTrade, KindTrade},
		{"unauthorized disputer", errors.New("custom program error: UnauthorizedDisputer"), KindTrade, KindTrade},
		{"unauthorized depositor", errors.New("custom program error: UnauthorizedDepositor"), KindTrade, KindTrade},
		{"offer status guard", errors.New("custom program error: InvalidStatus"), KindOffer, KindOffer},
		{"offer amount guard", errors.New("custom program error: InvalidAmounts"), KindOffer, KindOffer},
		{"offer price guard", errors.New("custom program error: InvalidPrice"), KindOffer, KindOffer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			translated := Translate(tt.fallback, "operation failed", tt.err)
			if translated.Kind != tt.want {
				t.Errorf("Expected kind %s, got %s", tt.want, translated.Kind)
			}
			if !errors.Is(translated, tt.err) {
				t.Error("Expected translated error to wrap the original")
			}
		})
	}
}

func TestTranslateAccountNotFoundKeepsFallbackKind(t *testing.T) {
	translated := Translate(KindOffer, "failed to load offer", errors.New("rpc: AccountNotFound"))

	if translated.Kind != KindOffer {
		t.Errorf("Expected fallback kind %s for missing account, got %s", KindOffer, translated.Kind)
	}
	if translated.Message != "failed to load offer: account not found" {
		t.Errorf("Unexpected message: %q", translated.Message)
	}
}

func TestTranslateUnrecognizedUsesFallback(t *testing.T) {
	translated := Translate(KindTrade, "failed to cancel trade", errors.New("connection reset by peer"))
	if translated.Kind != KindTrade {
		t.Errorf("Expected fallback kind %s, got %s", KindTrade, translated.Kind)
	}

	translated = Translate("", "something broke", errors.New("connection reset by peer"))
	if translated.Kind != KindUnknown {
		t.Errorf("Expected %s when no fallback is given, got %s", KindUnknown, translated.Kind)
	}
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", New(KindPrice, "oracle feed not trading"))
	if got := KindOf(wrapped); got != KindPrice {
		t.Errorf("Expected %s, got %s", KindPrice, got)
	}

	if got := KindOf(errors.New("plain")); got != KindUnknown {
		t.Errorf("Expected %s for untyped error, got %s", KindUnknown, got)
	}
}
