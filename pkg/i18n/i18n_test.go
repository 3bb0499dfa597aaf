package i18n

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAcceptLanguage(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", LocaleEnglish},
		{"de-DE,de;q=0.9,en;q=0.8", LocaleGerman},
		{"en-US,en;q=0.9,de;q=0.5", LocaleEnglish},
		{"fr-FR, de-AT;q=0.7", LocaleGerman},
		{"fr-FR", LocaleEnglish},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseAcceptLanguage(tt.header), tt.header)
	}
}

func TestLocalizer_T(t *testing.T) {
	params := map[string]string{"product_id": "p-1", "requested": "7", "shortfall": "2"}

	en := NewLocalizer(LocaleEnglish).T("errors.insufficient_stock", params)
	assert.Equal(t, "Insufficient stock for product p-1: requested 7, short by 2", en)

	de := NewLocalizer(LocaleGerman).T("errors.insufficient_stock", params)
	assert.Contains(t, de, "Fehlmenge 2")
}

func TestLocalizer_FallsBackToKey(t *testing.T) {
	assert.Equal(t, "errors.does_not_exist", T("errors.does_not_exist"))
}

func TestTFromContext(t *testing.T) {
	ctx := WithLocale(context.Background(), LocaleGerman)
	assert.Equal(t, "Charge nicht gefunden", TFromContext(ctx, "errors.not_found", map[string]string{"resource": "Charge"}))
}

func TestCataloguesHaveSameKeys(t *testing.T) {
	en := Keys(LocaleEnglish)
	assert.NotEmpty(t, en)
	assert.Equal(t, en, Keys(LocaleGerman))
}

func TestNewLocalizer_UnsupportedLocale(t *testing.T) {
	assert.Equal(t, T("errors.not_found", map[string]string{"resource": "x"}),
		NewLocalizer("fr").T("errors.not_found", map[string]string{"resource": "x"}))
}
