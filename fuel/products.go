// Package fuel is the depot's product catalogue. The ledger core treats a
// product as an opaque lock and FIFO domain; this package decides which
// codes exist and how free-form names from documents map onto them.
package fuel

import (
	"fmt"
	"sort"
	"strings"

	"github.com/warp/fuel-ledger/stock"
)

// =============================================================================
// PRODUCTS
// =============================================================================

const (
	AGO stock.Product = "AGO" // automotive gas oil (diesel)
	PMS stock.Product = "PMS" // premium motor spirit (petrol)
	IK  stock.Product = "IK"  // illuminating kerosene
	JET stock.Product = "JET" // jet A-1
)

// Info describes a catalogue entry.
type Info struct {
	Code    stock.Product
	Name    string
	Aliases []string
}

var catalogue = map[stock.Product]Info{
	AGO: {Code: AGO, Name: "Automotive Gas Oil", Aliases: []string{"DIESEL", "GASOIL", "GAS OIL"}},
	PMS: {Code: PMS, Name: "Premium Motor Spirit", Aliases: []string{"PETROL", "SUPER", "GASOLINE", "MOGAS"}},
	IK:  {Code: IK, Name: "Illuminating Kerosene", Aliases: []string{"KEROSENE", "DPK", "PARAFFIN"}},
	JET: {Code: JET, Name: "Jet A-1", Aliases: []string{"JET A-1", "JET-A1", "JETA1", "ATK"}},
}

var byAlias = func() map[string]stock.Product {
	m := make(map[string]stock.Product)
	for code, info := range catalogue {
		m[normalize(string(code))] = code
		m[normalize(info.Name)] = code
		for _, a := range info.Aliases {
			m[normalize(a)] = code
		}
	}
	return m
}()

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToUpper(s)), " ")
}

// Parse maps a product code, name or alias to its catalogue code.
func Parse(s string) (stock.Product, error) {
	if p, ok := byAlias[normalize(s)]; ok {
		return p, nil
	}
	return "", fmt.Errorf("unknown product %q: %w", s, stock.ErrInvalidProduct)
}

// Valid reports whether p is a catalogue code.
func Valid(p stock.Product) bool {
	_, ok := catalogue[p]
	return ok
}

// Lookup returns the catalogue entry for p.
func Lookup(p stock.Product) (Info, bool) {
	info, ok := catalogue[p]
	return info, ok
}

// All lists the catalogue sorted by code.
func All() []Info {
	out := make([]Info, 0, len(catalogue))
	for _, info := range catalogue {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
