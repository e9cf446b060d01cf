package store

import (
	"strings"
	"testing"
)

// serialized_uint32 must preserve numeric order: for a < b,
// bytes(a) < bytes(b) lexicographically.
func TestSerializeUint32_PreservesOrder(t *testing.T) {
	values := []uint32{0, 1, 255, 256, 65535, 1 << 20, 1<<31 - 1, 1 << 31, 0xFFFFFFFE}
	for i := 0; i+1 < len(values); i++ {
		a, b := SerializeUint32(values[i]), SerializeUint32(values[i+1])
		if !(a < b) {
			t.Errorf("bytes(%d) >= bytes(%d)", values[i], values[i+1])
		}
	}
}

func TestSerializeUint32_RoundTrip(t *testing.T) {
	for _, v := range []uint32{0, 7, 1 << 16, 0xFFFFFFFF} {
		if got := DeserializeUint32(SerializeUint32(v)); got != v {
			t.Errorf("round trip of %d produced %d", v, got)
		}
	}
}

func TestDocSeqKey_ScanOrderMatchesSeqOrder(t *testing.T) {
	if !(DocSeqKey(3, 5) < DocSeqKey(3, 6)) {
		t.Error("doc keys must sort by seq id")
	}
	if !(DocSeqKey(3, 255) < DocSeqKey(3, 256)) {
		t.Error("doc keys must sort across byte boundaries")
	}
}

func TestAnalyticsEventKey_StripsPercentFromUserID(t *testing.T) {
	key := AnalyticsEventKey("us%er", "click", 42)
	if strings.Count(key, "%") != 2 {
		t.Errorf("expected exactly the two structural separators, got %q", key)
	}
	if !strings.HasPrefix(key, "user%click%") {
		t.Errorf("unexpected key prefix: %q", key)
	}
}

func TestOverrideKey(t *testing.T) {
	if OverrideKey("products", "ov1") != "$CO_products_ov1" {
		t.Errorf("unexpected override key: %s", OverrideKey("products", "ov1"))
	}
}
