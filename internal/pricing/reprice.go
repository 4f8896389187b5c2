package pricing

// Reprice moves every line from oldCurrencyID to newCurrencyID. Lines whose old
// or new rate cannot be resolved are returned unchanged.
func Reprice(lines []Line, oldCurrencyID, newCurrencyID int, overrides, official []ExchangeRate) []Line {
	out, _ := RepriceDetailed(lines, oldCurrencyID, newCurrencyID, overrides, official)
	return out
}

// RepriceDetailed is Reprice that also reports which line indexes kept their
// original price because a rate was missing. A line labelled with a currency
// other than oldCurrencyID is converted from its own currency.
func RepriceDetailed(lines []Line, oldCurrencyID, newCurrencyID int, overrides, official []ExchangeRate) ([]Line, []int) {
	out := make([]Line, len(lines))
	copy(out, lines)
	if oldCurrencyID == newCurrencyID {
		return out, nil
	}

	book := RateBook{Overrides: overrides, Official: official}
	var unconverted []int
	for i, line := range out {
		from := oldCurrencyID
		if line.CurrencyID != oldCurrencyID {
			from = line.CurrencyID
		}
		if from == newCurrencyID {
			continue
		}
		price, ok := book.Convert(line.UnitPrice, from, newCurrencyID)
		if !ok {
			unconverted = append(unconverted, i)
			continue
		}
		line.UnitPrice = price
		line.CurrencyID = newCurrencyID
		out[i] = CalculateLineTotals(line)
	}
	return out, unconverted
}
