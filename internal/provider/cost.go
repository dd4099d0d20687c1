package provider

import (
	"math"
	"strconv"
	"unicode/utf16"

	"github.com/kursadbilgin/sms-dispatch/internal/domain"
)

// Encoding is the character set an SMS body is sent with.
type Encoding string

const (
	EncodingGSM7 Encoding = "GSM-7"
	EncodingUCS2 Encoding = "UCS-2"
)

const (
	gsmSinglePart     = 160
	gsmMultiPart      = 153
	unicodeSinglePart = 70
	unicodeMultiPart  = 67
)

const gsmBasic = "@£$¥èéùìòÇ\nØø\rÅåΔ_ΦΓΛΩΠΨΣΘΞÆæßÉ !\"#¤%&'()*+,-./0123456789:;<=>?" +
	"¡ABCDEFGHIJKLMNOPQRSTUVWXYZÄÖÑÜ§¿abcdefghijklmnopqrstuvwxyzäöñüà"

// Extension characters take an escape septet plus the character itself.
const gsmExtension = "\f^{}\\[~]|€"

var (
	gsmBasicSet     = runeSet(gsmBasic)
	gsmExtensionSet = runeSet(gsmExtension)
)

func runeSet(s string) map[rune]struct{} {
	m := make(map[rune]struct{}, len(s))
	for _, r := range s {
		m[r] = struct{}{}
	}
	return m
}

// Segmentation describes how a body is split into billable parts.
type Segmentation struct {
	Encoding Encoding
	Units    int
	Parts    int
}

// Segments computes the encoding and part count for body.
func Segments(body string) Segmentation {
	septets := 0
	gsm := true
	for _, r := range body {
		if _, ok := gsmBasicSet[r]; ok {
			septets++
			continue
		}
		if _, ok := gsmExtensionSet[r]; ok {
			septets += 2
			continue
		}
		gsm = false
		break
	}

	if gsm {
		return Segmentation{Encoding: EncodingGSM7, Units: septets, Parts: parts(septets, gsmSinglePart, gsmMultiPart)}
	}

	units := len(utf16.Encode([]rune(body)))
	return Segmentation{Encoding: EncodingUCS2, Units: units, Parts: parts(units, unicodeSinglePart, unicodeMultiPart)}
}

func parts(units, single, multi int) int {
	switch {
	case units == 0:
		return 0
	case units <= single:
		return 1
	}
	return (units + multi - 1) / multi
}

// CostCalculator prices messages per part with a marketing surcharge.
type CostCalculator struct {
	PerPart             float64
	MarketingMultiplier float64
	Precision           int
}

func NewCostCalculator(settings domain.ProviderSettings) CostCalculator {
	precision := settings.CurrencyPrecision
	if precision <= 0 {
		precision = 2
	}
	multiplier := settings.MarketingMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	return CostCalculator{
		PerPart:             settings.CostPerSMS,
		MarketingMultiplier: multiplier,
		Precision:           precision,
	}
}

// Estimate is a priced segmentation of a message.
type Estimate struct {
	Segmentation
	Cost float64
}

func (c CostCalculator) Estimate(msg domain.OutboundMessage) Estimate {
	seg := Segments(msg.Body)
	cost := float64(seg.Parts) * c.PerPart
	if msg.Category == domain.CategoryMarketing && c.MarketingMultiplier > 0 {
		cost *= c.MarketingMultiplier
	}
	return Estimate{Segmentation: seg, Cost: roundTo(cost, c.Precision)}
}

func (c CostCalculator) Calculate(msg domain.OutboundMessage) float64 {
	return c.Estimate(msg).Cost
}

// roundTo rounds half away from zero. The scaled value is cut to 15
// significant digits first so 1.005 rounds to 1.01, not 1.00.
func roundTo(v float64, precision int) float64 {
	if precision < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	scale := math.Pow10(precision)
	scaled, err := strconv.ParseFloat(strconv.FormatFloat(v*scale, 'g', 15, 64), 64)
	if err != nil {
		scaled = v * scale
	}
	return math.Round(scaled) / scale
}
