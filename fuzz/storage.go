package fuzz

import (
	"context"
	"log/slog"
	"slices"

	"github.com/lukemcguire/primal/browser"
)

// FuzzedSuffix marks every value the storage fuzzer rewrites.
const FuzzedSuffix = "_fuzzed_"

// StorageFuzzer corrupts cookies and local storage. It is best-effort: no
// failure is ever returned to the caller.
type StorageFuzzer struct {
	rand   *Rand
	logger *slog.Logger
}

// NewStorageFuzzer creates a StorageFuzzer. A nil logger discards output.
func NewStorageFuzzer(r *Rand, logger *slog.Logger) *StorageFuzzer {
	if r == nil {
		r = TimeSeeded()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &StorageFuzzer{rand: r, logger: logger}
}

// Fuzz deletes or mutates, with equal odds, every cookie and every
// local-storage entry visible to s.
func (f *StorageFuzzer) Fuzz(ctx context.Context, s browser.Session) {
	f.fuzzCookies(ctx, s)
	f.fuzzLocalStorage(ctx, s)
}

func (f *StorageFuzzer) fuzzCookies(ctx context.Context, s browser.Session) {
	cookies, err := s.Cookies(ctx)
	if err != nil {
		f.logger.WarnContext(ctx, "list cookies", "err", err)
		return
	}
	var deleted, mutated int
	for _, c := range cookies {
		if f.rand.Chance(0.5) {
			if err := s.DeleteCookie(ctx, c); err != nil {
				f.logger.WarnContext(ctx, "delete cookie", "name", c.Name, "err", err)
				continue
			}
			deleted++
			continue
		}
		// Copy every attribute so the rewrite never downgrades security flags.
		mutatedCookie := c
		mutatedCookie.Value = c.Value + FuzzedSuffix + f.rand.Alnum(6)
		if err := s.SetCookie(ctx, mutatedCookie); err != nil {
			f.logger.WarnContext(ctx, "rewrite cookie", "name", c.Name, "err", err)
			continue
		}
		mutated++
	}
	f.logger.DebugContext(ctx, "cookies fuzzed", "deleted", deleted, "mutated", mutated)
}

func (f *StorageFuzzer) fuzzLocalStorage(ctx context.Context, s browser.Session) {
	entries, err := s.LocalStorage(ctx)
	if err != nil {
		f.logger.WarnContext(ctx, "read local storage", "err", err)
		return
	}
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	// Map order is random; sort so a seeded Rand reproduces decisions.
	slices.Sort(keys)

	var removed, mutated int
	for _, key := range keys {
		if f.rand.Chance(0.5) {
			if err := s.RemoveLocalStorage(ctx, key); err != nil {
				f.logger.WarnContext(ctx, "remove local storage entry", "key", key, "err", err)
				continue
			}
			removed++
			continue
		}
		value := entries[key] + FuzzedSuffix + f.rand.Alnum(6)
		if err := s.SetLocalStorage(ctx, key, value); err != nil {
			f.logger.WarnContext(ctx, "rewrite local storage entry", "key", key, "err", err)
			continue
		}
		mutated++
	}
	f.logger.DebugContext(ctx, "local storage fuzzed", "removed", removed, "mutated", mutated)
}
