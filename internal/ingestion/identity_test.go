package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/bulkorders/internal/domain"
)

func parseOne(t *testing.T, header, line string) RawRow {
	t.Helper()
	rows, err := NewParser(0).Parse("orders.csv", []byte(header+"\n"+line+"\n"))
	require.NoError(t, err)
	row, err := rows.Next()
	require.NoError(t, err)
	return row
}

func TestResolveIdentityPrefersClientReference(t *testing.T) {
	row := parseOne(t, "clientReference,"+orderHeader, "INV-7,Acme,5550100,Bo,5550200,1 Main St,Springfield,1,1.5,STANDARD")

	key := ResolveIdentity(row)
	assert.Equal(t, domain.IdentityKey{Value: "INV-7", Basis: domain.BasisClientReference}, key)

	blank := parseOne(t, "clientReference,"+orderHeader, "   ,Acme,5550100,Bo,5550200,1 Main St,Springfield,1,1.5,STANDARD")
	key = ResolveIdentity(blank)
	assert.Equal(t, domain.BasisContentHash, key.Basis)
	assert.Len(t, key.Value, 64)
}

func TestContentHashIsStable(t *testing.T) {
	a := parseOne(t, orderHeader+",notes", "Acme,5550100,Bo,5550200,1 Main St,Springfield,1,1.5,same day,fragile")
	b := parseOne(t, orderHeader+",notes", " Acme ,5550100,Bo,5550200,1 Main St,Springfield,1.0,1.50,SAME_DAY,other notes")
	c := parseOne(t, orderHeader+",notes", "Acme,5550100,Bo,5550200,1 Main St,Springfield,1,1.6,SAME_DAY,fragile")

	keyA := ResolveIdentity(a)
	keyB := ResolveIdentity(b)
	keyC := ResolveIdentity(c)

	assert.Equal(t, keyA, keyB)
	assert.NotEqual(t, keyA.Value, keyC.Value)
}

func TestContentHashSeparatesFields(t *testing.T) {
	a := parseOne(t, orderHeader, "Ab,5550100,c,5550200,Addr,City,1,1,STANDARD")
	b := parseOne(t, orderHeader, "A,5550100,bc,5550200,Addr,City,1,1,STANDARD")

	keyA := ResolveIdentity(a)
	keyB := ResolveIdentity(b)
	assert.NotEqual(t, keyA.Value, keyB.Value)
}
