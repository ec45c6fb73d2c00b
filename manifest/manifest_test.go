package manifest

import (
	"testing"
)

func validManifest() *Manifest {
	return &Manifest{
		Name:        "orders",
		Version:     "1.2.3",
		Description: "order processing",
		Author:      "team-commerce",
		Security:    Security{TrustLevel: TrustInternal},
		Module: Module{
			Guards: []Guard{
				{Name: "can-refund", Scope: GuardLocal},
			},
		},
	}
}

func TestValidateFullHappyPath(t *testing.T) {
	res := Validate(validManifest(), Full)
	if !res.Valid {
		t.Fatalf("expected valid, got errors=%v", res.Errors)
	}
}

func TestValidateRejectsBadName(t *testing.T) {
	m := validManifest()
	m.Name = "Orders!"
	res := Validate(m, Essential)
	if res.Valid {
		t.Fatal("expected invalid name to fail")
	}
}

func TestValidateRejectsBadVersion(t *testing.T) {
	m := validManifest()
	m.Version = "not-a-version"
	res := Validate(m, Trusted)
	if res.Valid {
		t.Fatal("expected invalid version to fail")
	}
}

func TestTrustedSeverityOnlyChecksNameAndVersion(t *testing.T) {
	m := validManifest()
	m.Author = ""
	m.Description = ""
	res := Validate(m, Trusted)
	if !res.Valid {
		t.Fatalf("expected trusted severity to ignore missing author/description, got %v", res.Errors)
	}
}

func TestEssentialRequiresAuthorAndDescription(t *testing.T) {
	m := validManifest()
	m.Author = ""
	res := Validate(m, Essential)
	if res.Valid {
		t.Fatal("expected missing author to fail at essential severity")
	}
}

func TestTrustLevelMustBeKnownEnum(t *testing.T) {
	m := validManifest()
	m.Security.TrustLevel = "rogue"
	res := Validate(m, Essential)
	if res.Valid {
		t.Fatal("expected unknown trust level to fail")
	}
}

func TestChecksumMD5IsWarningNotError(t *testing.T) {
	m := validManifest()
	m.Security.Checksum = &Checksum{Algorithm: "MD5", Hash: "abc"}
	res := Validate(m, Essential)
	if !res.Valid {
		t.Fatalf("expected MD5 checksum to be a warning, not invalid: %v", res.Errors)
	}
	if len(res.Warnings) == 0 {
		t.Fatal("expected a warning for MD5 checksum")
	}
}

func TestChecksumUnknownAlgorithmIsError(t *testing.T) {
	m := validManifest()
	m.Security.Checksum = &Checksum{Algorithm: "CRC32", Hash: "abc"}
	res := Validate(m, Essential)
	if res.Valid {
		t.Fatal("expected unknown checksum algorithm to fail")
	}
}

func TestDuplicateGuardNamesRejected(t *testing.T) {
	m := validManifest()
	m.Module.Guards = []Guard{
		{Name: "g1", Scope: GuardLocal},
		{Name: "g1", Scope: GuardLocal},
	}
	res := Validate(m, Essential)
	if res.Valid {
		t.Fatal("expected duplicate guard names to fail")
	}
}

func TestExternalGuardRequiresSource(t *testing.T) {
	m := validManifest()
	m.Module.Guards = []Guard{{Name: "g1", Scope: GuardExternal}}
	res := Validate(m, Essential)
	if res.Valid {
		t.Fatal("expected external guard without source to fail")
	}
}

func TestGuardDependencyCycleDetected(t *testing.T) {
	m := validManifest()
	m.Module.Guards = []Guard{
		{Name: "a", Scope: GuardLocal, Dependencies: []string{"b"}},
		{Name: "b", Scope: GuardLocal, Dependencies: []string{"a"}},
	}
	res := Validate(m, Essential)
	if res.Valid {
		t.Fatal("expected guard dependency cycle to fail")
	}
}

func TestAbsolutePathRejectedAtFullSeverity(t *testing.T) {
	m := validManifest()
	m.Module.Guards = []Guard{{Name: "g1", Scope: GuardLocal, Class: "/etc/passwd"}}
	res := Validate(m, Full)
	if res.Valid {
		t.Fatal("expected absolute class path to fail at full severity")
	}
}

func TestTraversalPathRejectedAtFullSeverity(t *testing.T) {
	m := validManifest()
	m.Module.Guards = []Guard{{Name: "g1", Scope: GuardLocal, Class: "../../etc/passwd"}}
	res := Validate(m, Full)
	if res.Valid {
		t.Fatal("expected traversal class path to fail at full severity")
	}
}

func TestPathChecksSkippedBelowFullSeverity(t *testing.T) {
	m := validManifest()
	m.Module.Guards = []Guard{{Name: "g1", Scope: GuardLocal, Class: "/etc/passwd"}}
	res := Validate(m, Essential)
	if !res.Valid {
		t.Fatalf("expected path checks to be skipped below full severity, got %v", res.Errors)
	}
}

func TestCacheHitEqualsMiss(t *testing.T) {
	c := NewResultCache(DefaultCacheConfig())
	m := validManifest()
	raw := []byte(`{"name":"orders"}`)

	miss := c.GetOrValidate(raw, m, Full)
	hit := c.GetOrValidate(raw, m, Full)

	if miss.Valid != hit.Valid || len(miss.Errors) != len(hit.Errors) {
		t.Fatalf("cache hit %v does not equal miss %v", hit, miss)
	}
	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("stats = %+v, want 1 hit and 1 miss", stats)
	}
}

func TestCacheKeyIncludesSeverity(t *testing.T) {
	c := NewResultCache(DefaultCacheConfig())
	m := validManifest()
	m.Author = ""
	raw := []byte(`{"name":"orders"}`)

	trusted := c.GetOrValidate(raw, m, Trusted)
	essential := c.GetOrValidate(raw, m, Essential)

	if !trusted.Valid {
		t.Fatalf("expected trusted pass, got %v", trusted.Errors)
	}
	if essential.Valid {
		t.Fatal("expected essential to fail on missing author despite identical bytes")
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewResultCache(CacheConfig{MaxSize: 2, DefaultTTL: 0})
	m := validManifest()
	c.GetOrValidate([]byte("a"), m, Full)
	c.GetOrValidate([]byte("b"), m, Full)
	c.GetOrValidate([]byte("a"), m, Full) // touch a, making b the LRU
	c.GetOrValidate([]byte("c"), m, Full) // evicts b

	if _, ok := c.Get(cacheKey([]byte("b"), Full)); ok {
		t.Fatal("expected b to have been evicted as least recently used")
	}
	if _, ok := c.Get(cacheKey([]byte("a"), Full)); !ok {
		t.Fatal("expected a to survive eviction")
	}
}

func TestParseRoundTrips(t *testing.T) {
	raw := []byte(`{"name":"orders","version":"1.0.0","security":{"trustLevel":"internal"}}`)
	m, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.Name != "orders" || m.Version != "1.0.0" {
		t.Fatalf("parsed manifest mismatch: %+v", m)
	}
}

func TestParseInvalidJSON(t *testing.T) {
	if _, err := Parse([]byte("not json")); err == nil {
		t.Fatal("expected an error for invalid JSON")
	}
}
