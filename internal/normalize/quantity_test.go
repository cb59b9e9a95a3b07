package normalize

import "testing"

func TestQuantity(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		// OCR unit corrections
		{"500 gr", "500g"},
		{"500gr", "500g"},
		{"1kq", "1kg"},
		{"500mi", "500ml"},
		{"2lt", "2l"},
		{"200 grammi", "200g"},

		// range conversions
		{"6000g", "6.0kg"},
		{"1000g", "1.0kg"},
		{"999g", "999g"},
		{"0.5kg", "500g"},
		{"0,5 kg", "500g"},
		{"1500ml", "1.5l"},
		{"0.5l", "500ml"},
		{"0.75l", "750ml"},

		// secondary units
		{"33cl", "330ml"},
		{"150cl", "1.5l"},

		// multipacks
		{"6x70g", "6x70g"},
		{"4 x 125 gr", "4x125g"},
		{"2X1l", "2x1l"},

		// counts and passthrough
		{"2", "2pz"},
		{"3 pezzi", "3pz"},
		{"1,5kg", "1.5kg"},
		{"", ""},
		{"confezione famiglia", "confezionefamiglia"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Quantity(tt.in); got != tt.want {
				t.Errorf("Quantity(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
