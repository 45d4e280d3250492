package gate

import (
	"testing"

	"golang.org/x/crypto/bcrypt"

	"teslatv/work/config"
)

func TestCheckPlaintext(t *testing.T) {
	g := New(&config.Config{GateSecret: "Tesla", GateTarget: "/c/after-dark"})

	if target, ok := g.Check("Tesla"); !ok || target != "/c/after-dark" {
		t.Fatalf("Check(Tesla) = %q, %v", target, ok)
	}
	for _, wrong := range []string{"", "tesla", "Tesla ", "Tesl"} {
		if target, ok := g.Check(wrong); ok || target != "" {
			t.Errorf("Check(%q) = %q, %v", wrong, target, ok)
		}
	}
}

func TestCheckHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	g := New(&config.Config{GateSecret: "Tesla", GateSecretHash: string(hash), GateTarget: "/c/hidden"})

	if target, ok := g.Check("s3cret"); !ok || target != "/c/hidden" {
		t.Fatalf("Check = %q, %v", target, ok)
	}
	// the plaintext secret is ignored once a hash is configured
	if _, ok := g.Check("Tesla"); ok {
		t.Fatal("plaintext secret accepted alongside hash")
	}
}

func TestCheckBrokenHash(t *testing.T) {
	g := New(&config.Config{GateSecretHash: "not-a-bcrypt-hash"})
	if _, ok := g.Check("anything"); ok {
		t.Fatal("broken hash accepted a secret")
	}
}

func TestCheckNoSecret(t *testing.T) {
	g := New(&config.Config{})
	if _, ok := g.Check(""); ok {
		t.Fatal("empty secret accepted")
	}
}
