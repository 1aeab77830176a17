package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"
)

// envReader reads typed values out of the environment. Blank values count
// as unset.
type envReader struct {
	k *koanf.Koanf
}

func newEnvReader() (envReader, error) {
	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return envReader{}, fmt.Errorf("load env: %w", err)
	}
	return envReader{k: k}, nil
}

func (e envReader) raw(key string) string {
	return strings.TrimSpace(e.k.String(key))
}

func (e envReader) str(key, def string) string {
	if v := e.raw(key); v != "" {
		return v
	}
	return def
}

// secret keeps surrounding whitespace, which may be part of the value.
func (e envReader) secret(key string) string {
	return e.k.String(key)
}

func (e envReader) list(key string) []string {
	var out []string
	for _, part := range strings.Split(e.raw(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (e envReader) flag(key string, def bool) bool {
	switch strings.ToLower(e.raw(key)) {
	case "":
		return def
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// count reads a positive integer.
func (e envReader) count(key string, def int) int {
	n, err := strconv.Atoi(e.raw(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// ratio reads a float in (0, 1].
func (e envReader) ratio(key string, def float64) float64 {
	f, err := strconv.ParseFloat(e.raw(key), 64)
	if err != nil || f <= 0 || f > 1 {
		return def
	}
	return f
}

func (e envReader) duration(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(e.raw(key))
	if err != nil || d < 0 {
		return def
	}
	return d
}

func (e envReader) fraction(key, def string) (decimal.Decimal, error) {
	return parseGP(key, e.str(key, def))
}
