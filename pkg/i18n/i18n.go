// Package i18n localizes API error messages. Catalogues are embedded JSON
// files, one per locale, with nested keys addressed in dot notation
// ("errors.insufficient_stock").
package i18n

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

//go:embed messages/*.json
var messagesFS embed.FS

// Supported locales
const (
	LocaleEnglish = "en"
	LocaleGerman  = "de"
	DefaultLocale = LocaleEnglish
)

var supported = []string{LocaleEnglish, LocaleGerman}

type localeKey struct{}

var (
	catalogues map[string]map[string]string
	loadOnce   sync.Once
)

func load() {
	loadOnce.Do(func() {
		catalogues = make(map[string]map[string]string, len(supported))
		for _, locale := range supported {
			data, err := messagesFS.ReadFile("messages/" + locale + ".json")
			if err != nil {
				panic(fmt.Sprintf("i18n: missing catalogue %s: %v", locale, err))
			}
			var tree map[string]interface{}
			if err := json.Unmarshal(data, &tree); err != nil {
				panic(fmt.Sprintf("i18n: invalid catalogue %s: %v", locale, err))
			}
			flat := make(map[string]string)
			flatten("", tree, flat)
			catalogues[locale] = flat
		}
	})
}

func flatten(prefix string, tree map[string]interface{}, out map[string]string) {
	for k, v := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case string:
			out[key] = val
		case map[string]interface{}:
			flatten(key, val, out)
		}
	}
}

// Keys lists the message keys of a locale, sorted
func Keys(locale string) []string {
	load()
	keys := make([]string, 0, len(catalogues[locale]))
	for k := range catalogues[locale] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Localizer translates into one locale, falling back to English
type Localizer struct {
	locale string
}

// NewLocalizer creates a localizer. Unsupported locales get the default.
func NewLocalizer(locale string) *Localizer {
	load()
	if _, ok := catalogues[locale]; !ok {
		locale = DefaultLocale
	}
	return &Localizer{locale: locale}
}

// T translates key, replacing {name} placeholders from params. Unknown
// keys are returned as is.
func (l *Localizer) T(key string, params ...map[string]string) string {
	msg, ok := catalogues[l.locale][key]
	if !ok {
		msg, ok = catalogues[DefaultLocale][key]
	}
	if !ok {
		return key
	}

	if len(params) > 0 && len(params[0]) > 0 {
		pairs := make([]string, 0, 2*len(params[0]))
		for k, v := range params[0] {
			pairs = append(pairs, "{"+k+"}", v)
		}
		msg = strings.NewReplacer(pairs...).Replace(msg)
	}
	return msg
}

// WithLocale adds locale to context
func WithLocale(ctx context.Context, locale string) context.Context {
	return context.WithValue(ctx, localeKey{}, locale)
}

// LocaleFromContext returns the request locale, or the default
func LocaleFromContext(ctx context.Context) string {
	if locale, ok := ctx.Value(localeKey{}).(string); ok && locale != "" {
		return locale
	}
	return DefaultLocale
}

// ParseAcceptLanguage returns the first supported locale named in an
// Accept-Language header, in header order. Quality weights are ignored.
func ParseAcceptLanguage(header string) string {
	for _, part := range strings.Split(header, ",") {
		tag := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		primary := strings.ToLower(strings.SplitN(tag, "-", 2)[0])
		for _, locale := range supported {
			if primary == locale {
				return locale
			}
		}
	}
	return DefaultLocale
}

// T translates using the default locale
func T(key string, params ...map[string]string) string {
	return NewLocalizer(DefaultLocale).T(key, params...)
}

// TFromContext translates using the locale in ctx
func TFromContext(ctx context.Context, key string, params ...map[string]string) string {
	return NewLocalizer(LocaleFromContext(ctx)).T(key, params...)
}
