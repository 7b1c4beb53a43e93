package etl

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/kitchen-cli/internal/model"
)

var priceReplacer = strings.NewReplacer("$", "", ",", "", " ", "", "USD", "", "usd", "")

// parsePrice accepts numbers and text such as "$1,234.50".
func parsePrice(v Value) (float64, error) {
	f, ok := v.Number()
	if !ok {
		s := priceReplacer.Replace(v.String())
		var err error
		f, err = strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, eris.Errorf("price %q is not a number", v.String())
		}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 0, eris.Errorf("price %v must be positive", f)
	}
	return f, nil
}

var dateLayouts = []string{
	model.DateLayout,
	"2006/01/02",
	"1/2/2006",
	"1/2/06",
	"1-2-2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"January 2, 2006",
	"2-Jan-2006",
	"2-Jan-06",
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// Spreadsheet serial dates count days from 1899-12-30. The accepted window
// spans 1954 through 2119.
const (
	minExcelSerial = 20000
	maxExcelSerial = 80000
)

var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// parseDate returns the calendar date held by v.
func parseDate(v Value) (time.Time, error) {
	if f, ok := v.Number(); ok {
		return fromSerial(f)
	}
	s := v.String()
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return model.Date(t), nil
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromSerial(f)
	}
	return time.Time{}, eris.Errorf("price_date %q is not a recognized date", s)
}

func fromSerial(f float64) (time.Time, error) {
	if f < minExcelSerial || f > maxExcelSerial {
		return time.Time{}, eris.Errorf("price_date %v is outside the spreadsheet serial range", f)
	}
	return excelEpoch.AddDate(0, 0, int(math.Floor(f))), nil
}
