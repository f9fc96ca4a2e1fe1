package router

import "testing"

func TestRouteGroupIsStable(t *testing.T) {
	const numPartitions = 50
	first := RouteGroup("my-consumer-group", numPartitions)
	for i := 0; i < 100; i++ {
		if got := RouteGroup("my-consumer-group", numPartitions); got != first {
			t.Fatalf("RouteGroup is not stable: got %d, want %d", got, first)
		}
	}
}

func TestRouteGroupInRange(t *testing.T) {
	const numPartitions = 16
	for _, id := range []string{"", "a", "group-1", "a-much-longer-group-identifier-than-the-others"} {
		p := RouteGroup(id, numPartitions)
		if p < 0 || p >= numPartitions {
			t.Fatalf("RouteGroup(%q) = %d, out of [0,%d)", id, p, numPartitions)
		}
	}
}

func TestRouteTxnIsStable(t *testing.T) {
	const numPartitions = 50
	first := RouteTxn("my-transactional-id", numPartitions)
	for i := 0; i < 100; i++ {
		if got := RouteTxn("my-transactional-id", numPartitions); got != first {
			t.Fatalf("RouteTxn is not stable: got %d, want %d", got, first)
		}
	}
}

func TestRouteTxnInRange(t *testing.T) {
	const numPartitions = 16
	for _, id := range []string{"", "a", "txn-1", "a-much-longer-transactional-id-than-the-others"} {
		p := RouteTxn(id, numPartitions)
		if p < 0 || p >= numPartitions {
			t.Fatalf("RouteTxn(%q) = %d, out of [0,%d)", id, p, numPartitions)
		}
	}
}

// javaStringHashCode("") is 0 by definition, so its abs-masked value is
// always partition 0 regardless of numPartitions.
func TestRouteTxnEmptyIDIsPartitionZero(t *testing.T) {
	if p := RouteTxn("", 32); p != 0 {
		t.Fatalf("expected partition 0 for empty transactional id, got %d", p)
	}
}

func TestJavaStringHashCodeKnownValues(t *testing.T) {
	cases := map[string]int32{
		"":      0,
		"a":     97,
		"abc":   96354,
		"hello": 99162322,
	}
	for s, want := range cases {
		if got := javaStringHashCode(s); got != want {
			t.Fatalf("javaStringHashCode(%q) = %d, want %d", s, got, want)
		}
	}
}
