package cache

import "testing"

func TestKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want string
	}{
		{name: "host namespace", key: Key{Namespace: "127.0.0.1:8000", ItemID: 42}, want: "harvest:item:127.0.0.1:8000:42"},
		{name: "no namespace", key: Key{ItemID: 7}, want: "harvest:item:7"},
		{name: "trims separators", key: Key{Namespace: ":api:", ItemID: 1}, want: "harvest:item:api:1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKey_Deterministic(t *testing.T) {
	a := Key{Namespace: "host", ItemID: 5}
	b := Key{Namespace: "host", ItemID: 5}
	if a.String() != b.String() {
		t.Errorf("equal keys produced %q and %q", a.String(), b.String())
	}
	if a.String() == (Key{Namespace: "other", ItemID: 5}).String() {
		t.Error("different namespaces produced the same key")
	}
}
