package deploy

import (
	"strings"
	"testing"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"
)

func testImplementation(t *testing.T) util.Uint160 {
	t.Helper()
	impl, err := ParseImplementation("0xd2a4cff31913016155e38e474a2c06d08be276cf")
	if err != nil {
		t.Fatalf("ParseImplementation: %v", err)
	}
	return impl
}

func TestPredictDeterministic(t *testing.T) {
	impl := testImplementation(t)
	salt := []byte{1, 2, 3, 4}

	a := Predict(impl, salt)
	b := Predict(impl, salt)
	if a != b {
		t.Fatalf("Predict not deterministic: %s vs %s", a, b)
	}
	if _, err := address.StringToUint160(a); err != nil {
		t.Fatalf("predicted address does not decode: %v", err)
	}
}

func TestPredictVariesWithInputs(t *testing.T) {
	impl := testImplementation(t)

	base := Predict(impl, []byte{1, 2, 3})
	if got := Predict(impl, []byte{1, 2, 4}); got == base {
		t.Fatal("different salt should give a different address")
	}

	other, err := ParseImplementation("ef4073a0f2b305a38ec4050e4d3d28bc40ea63f5")
	if err != nil {
		t.Fatalf("ParseImplementation: %v", err)
	}
	if got := Predict(other, []byte{1, 2, 3}); got == base {
		t.Fatal("different implementation should give a different address")
	}
}

func TestSaltForDeployerSeqDistinct(t *testing.T) {
	impl := testImplementation(t)
	deployer := address.Uint160ToString(util.Uint160{0xAA, 1, 2})

	plain, err := SaltForDeployer(deployer)
	if err != nil {
		t.Fatalf("SaltForDeployer: %v", err)
	}
	seq0, err := SaltForDeployerSeq(deployer, 0)
	if err != nil {
		t.Fatalf("SaltForDeployerSeq: %v", err)
	}
	seq1, err := SaltForDeployerSeq(deployer, 1)
	if err != nil {
		t.Fatalf("SaltForDeployerSeq: %v", err)
	}

	addrs := map[string]string{
		"plain": Predict(impl, plain),
		"seq0":  Predict(impl, seq0),
		"seq1":  Predict(impl, seq1),
	}
	seen := map[string]string{}
	for name, a := range addrs {
		if prev, dup := seen[a]; dup {
			t.Fatalf("salt schemes %s and %s collide at %s", prev, name, a)
		}
		seen[a] = name
	}
}

func TestSaltForDeployerRejectsBadAddress(t *testing.T) {
	if _, err := SaltForDeployer("not-an-address"); err == nil {
		t.Fatal("expected error for undecodable deployer")
	}
	if _, err := SaltForDeployer(""); err == nil {
		t.Fatal("expected error for empty deployer")
	}
}

func TestParseImplementation(t *testing.T) {
	with, err := ParseImplementation("0xd2a4cff31913016155e38e474a2c06d08be276cf")
	if err != nil {
		t.Fatalf("with prefix: %v", err)
	}
	without, err := ParseImplementation("d2a4cff31913016155e38e474a2c06d08be276cf")
	if err != nil {
		t.Fatalf("without prefix: %v", err)
	}
	if !with.Equals(without) {
		t.Fatal("prefix handling changed the parsed hash")
	}

	if _, err := ParseImplementation("zz"); err == nil {
		t.Fatal("expected error for junk input")
	}
	if _, err := ParseImplementation(strings.Repeat("ab", 21)); err == nil {
		t.Fatal("expected error for wrong length")
	}
}
