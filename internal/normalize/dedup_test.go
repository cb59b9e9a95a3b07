package normalize

import (
	"testing"

	"github.com/volantino-labs/flyer-extractor/internal/entity"
)

func TestDedupKeepsLowestPrice(t *testing.T) {
	in := []entity.Product{
		{Name: "Pasta di semola", Brand: "Barilla", Quantity: "500g", Price: f(0.99), Page: 1},
		{Name: "Latte intero", Brand: "Granarolo", Quantity: "1l", Price: f(1.49), Page: 1},
		{Name: "PASTA DI SEMOLA", Brand: "barilla", Quantity: "500g", Price: f(0.79), Page: 3},
	}
	out := Dedup(in)
	if len(out) != 2 {
		t.Fatalf("got %d products, want 2", len(out))
	}
	if out[0].Name != "Pasta di semola" {
		t.Errorf("first occurrence order lost, got %q", out[0].Name)
	}
	if out[0].Price == nil || *out[0].Price != 0.79 {
		t.Errorf("duplicate should keep lowest price, got %v", deref(out[0].Price))
	}
	if out[0].Page != 3 {
		t.Errorf("winning duplicate should carry its page, got %d", out[0].Page)
	}
}

func TestDedupDistinctQuantities(t *testing.T) {
	in := []entity.Product{
		{Name: "Olio extravergine", Brand: "Monini", Quantity: "750ml", Price: f(4.99)},
		{Name: "Olio extravergine", Brand: "Monini", Quantity: "1l", Price: f(5.99)},
	}
	if out := Dedup(in); len(out) != 2 {
		t.Fatalf("different quantities must not merge, got %d products", len(out))
	}
}

func TestDedupNilPrice(t *testing.T) {
	in := []entity.Product{
		{Name: "Caffe macinato", Brand: "Lavazza", Quantity: "250g", Price: nil},
		{Name: "Caffe macinato", Brand: "Lavazza", Quantity: "250g", Price: f(2.99)},
	}
	out := Dedup(in)
	if len(out) != 1 {
		t.Fatalf("got %d products, want 1", len(out))
	}
	if out[0].Price == nil || *out[0].Price != 2.99 {
		t.Errorf("known price should beat unknown, got %v", deref(out[0].Price))
	}
}
