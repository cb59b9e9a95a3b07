package provider

import "fmt"

// BuildPrompt renders the extraction instructions for one page image.
// The contract is Italian field names and "Non visibile" for illegible
// prices; downstream normalization depends on both.
func BuildPrompt(req Request) string {
	market := req.SupermarketName
	if market == "" {
		market = "un supermercato"
	}
	maxProducts := req.MaxProducts
	if maxProducts <= 0 {
		maxProducts = 10
	}
	return fmt.Sprintf(`Analizza questa pagina di un volantino promozionale di %s ed estrai i prodotti in offerta.

Rispondi SOLO con un array JSON valido, senza testo aggiuntivo. Ogni prodotto deve avere questi campi:
- "nome": nome del prodotto
- "marca": marca del prodotto, stringa vuota se non indicata
- "categoria": categoria merceologica
- "prezzo": prezzo in offerta, es. "2,49". Scrivi "Non visibile" se il prezzo non è leggibile
- "prezzo_originale": prezzo pieno se presente, altrimenti stringa vuota
- "quantita": quantità o formato, es. "500g", "1l", "6x70g"
- "descrizione": breve descrizione opzionale

Regole:
- Estrai al massimo %d prodotti, i più chiaramente leggibili
- Non inventare prezzi o prodotti non presenti nell'immagine
- Usa la virgola come separatore decimale nei prezzi
- Ignora testo non riferito a prodotti (orari, indirizzi, slogan)

Esempio di risposta:
[{"nome":"Pasta di semola","marca":"Barilla","categoria":"alimentari","prezzo":"0,89","prezzo_originale":"1,29","quantita":"500g","descrizione":"spaghetti n.5"}]`, market, maxProducts)
}
