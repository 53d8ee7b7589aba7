package binarylink

import (
	"crypto/md5" //nolint:gosec // проверка совместимости формата
	"encoding/hex"
	"testing"
	"time"
)

func TestGenerate_Deterministic(t *testing.T) {
	created := time.Date(2026, 3, 14, 15, 9, 26, 535897000, time.UTC)
	key := "binary/photo_3f2a9c1b-binary.jpeg"

	first := Generate(created, key)
	second := Generate(created, key)

	if first != second {
		t.Errorf("ссылки различаются для одинаковых входов: %s != %s", first, second)
	}
	if len(first) != Length {
		t.Errorf("длина ссылки = %d, ожидалась %d", len(first), Length)
	}
	if !IsValid(first) {
		t.Errorf("ссылка %q не является hex-строкой", first)
	}
}

func TestGenerate_Format(t *testing.T) {
	created := time.Date(2026, 3, 14, 15, 9, 26, 535897000, time.UTC)
	key := "binary/a-binary.jpeg"

	sum := md5.Sum([]byte("2026-03-14 15:09:26.535897+00:00" + key)) //nolint:gosec
	want := hex.EncodeToString(sum[:])[:16]

	if got := Generate(created, key); got != want {
		t.Errorf("Generate() = %s, хотели %s", got, want)
	}
}

func TestGenerate_TimezoneIndependent(t *testing.T) {
	utc := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	local := utc.In(time.FixedZone("MSK", 3*3600))

	if Generate(utc, "k") != Generate(local, "k") {
		t.Error("один и тот же момент в разных зонах должен давать одну ссылку")
	}
}

func TestGenerate_DistinctInputs(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seen := make(map[string]bool)

	for i := 0; i < 1000; i++ {
		link := Generate(base.Add(time.Duration(i)*time.Microsecond), "binary/x-binary.jpeg")
		if seen[link] {
			t.Fatalf("коллизия ссылки на итерации %d", i)
		}
		seen[link] = true
	}

	if Generate(base, "binary/a-binary.jpeg") == Generate(base, "binary/b-binary.jpeg") {
		t.Error("разные ключи должны давать разные ссылки")
	}
}

func TestIsExpired(t *testing.T) {
	created := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	const s = 300

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"T+S-1 — действует", created.Add((s - 1) * time.Second), false},
		{"T+S — граница, ещё действует", created.Add(s * time.Second), false},
		{"T+S+1 — истекла", created.Add((s + 1) * time.Second), true},
		{"до создания", created.Add(-time.Hour), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpired(created, s, tt.now); got != tt.want {
				t.Errorf("IsExpired() = %v, хотели %v", got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	in := time.Date(2026, 5, 1, 10, 0, 0, 123456789, time.FixedZone("X", 3600))
	got := Truncate(in)

	if got.Nanosecond() != 123456000 {
		t.Errorf("Nanosecond() = %d, ожидалось 123456000", got.Nanosecond())
	}
	if got.Location() != time.UTC {
		t.Errorf("Location() = %v, ожидалось UTC", got.Location())
	}
}

func TestIsValid(t *testing.T) {
	tests := map[string]bool{
		"0123456789abcdef":  true,
		"0123456789ABCDEF":  false,
		"0123456789abcde":   false,
		"0123456789abcdef0": false,
		"../../etc/passwd0": false,
		"":                  false,
	}
	for in, want := range tests {
		if got := IsValid(in); got != want {
			t.Errorf("IsValid(%q) = %v, хотели %v", in, got, want)
		}
	}
}
