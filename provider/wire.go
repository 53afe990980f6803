package provider

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jing2uo/datascan/model"
)

// number accepts plain or quoted numbers; pointers to it stay nil for null.
type number float64

func (n *number) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "" || strings.EqualFold(s, "nan") {
			*n = number(math.NaN())
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*n = number(v)
		return nil
	}

	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("invalid number: %s", string(data))
	}
	*n = number(v)
	return nil
}

func orNaN(n *number) float64 {
	if n == nil {
		return math.NaN()
	}
	return float64(*n)
}

func parseFrame(s string) (time.Time, error) {
	for _, layout := range []string{time.DateTime, time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid frame %q", s)
}

type barJSON struct {
	Frame     string  `json:"frame"`
	Open      *number `json:"open"`
	High      *number `json:"high"`
	Low       *number `json:"low"`
	Close     *number `json:"close"`
	Volume    *number `json:"volume"`
	Amount    *number `json:"amount"`
	Factor    *number `json:"factor"`
	HighLimit *number `json:"high_limit"`
	LowLimit  *number `json:"low_limit"`
}

func (b barJSON) model(code string) (model.Bar, error) {
	t, err := parseFrame(b.Frame)
	if err != nil {
		return model.Bar{}, fmt.Errorf("bar of %s: %w", code, err)
	}
	return model.Bar{
		Frame:     t,
		Code:      code,
		Open:      orNaN(b.Open),
		High:      orNaN(b.High),
		Low:       orNaN(b.Low),
		Close:     orNaN(b.Close),
		Volume:    orNaN(b.Volume),
		Amount:    orNaN(b.Amount),
		Factor:    orNaN(b.Factor),
		HighLimit: orNaN(b.HighLimit),
		LowLimit:  orNaN(b.LowLimit),
	}, nil
}

type limitJSON struct {
	Frame     string  `json:"frame"`
	Code      string  `json:"code"`
	HighLimit *number `json:"high_limit"`
	LowLimit  *number `json:"low_limit"`
}

func (l limitJSON) model() (model.PriceLimit, error) {
	t, err := parseFrame(l.Frame)
	if err != nil {
		return model.PriceLimit{}, fmt.Errorf("price limit of %s: %w", l.Code, err)
	}
	return model.PriceLimit{Frame: t, Code: l.Code, HighLimit: orNaN(l.HighLimit), LowLimit: orNaN(l.LowLimit)}, nil
}

type securityJSON struct {
	Code        string `json:"code"`
	DisplayName string `json:"display_name"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
}

func (s securityJSON) model() (model.Security, error) {
	sec := model.Security{Code: s.Code, DisplayName: s.DisplayName, Name: s.Name, Type: model.SecurityType(s.Type)}
	var err error
	if s.StartDate != "" {
		if sec.StartDate, err = time.Parse(time.DateOnly, s.StartDate); err != nil {
			return sec, fmt.Errorf("security %s start date: %w", s.Code, err)
		}
	}
	if s.EndDate != "" {
		if sec.EndDate, err = time.Parse(time.DateOnly, s.EndDate); err != nil {
			return sec, fmt.Errorf("security %s end date: %w", s.Code, err)
		}
	}
	return sec, nil
}
