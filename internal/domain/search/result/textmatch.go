package result

import "strconv"

// Text match scoring schemes.
const (
	MatchTypeMaxScore  = "max_score"
	MatchTypeMaxWeight = "max_weight"
)

// TextMatchInfo decodes the packed 64-bit text match score.
type TextMatchInfo struct {
	Score             string `json:"score"`
	TokensMatched     uint8  `json:"tokens_matched"`
	BestFieldScore    string `json:"best_field_score"`
	BestFieldWeight   uint8  `json:"best_field_weight"`
	NumMatchingFields uint8  `json:"fields_matched"`
	TypoPrefixScore   uint8  `json:"typo_prefix_score"`
}

// Bit widths of the packed layout, high to low:
// max_score:  [sign 1 | tokens_matched 4 | best_field_score 48 | best_field_weight 8 | num_matching_fields 3]
// max_weight: [sign 1 | tokens_matched 4 | best_field_weight 8 | best_field_score 48 | num_matching_fields 3]
const (
	tokensMatchedBits = 4
	fieldScoreBits    = 48
	fieldWeightBits   = 8
	numFieldsBits     = 3
)

// PackTextMatchScore builds the 64-bit score under the given scheme.
func PackTextMatchScore(tokensMatched uint8, fieldScore uint64, fieldWeight uint8,
	numMatchingFields uint8, matchType string) int64 {
	tm := uint64(tokensMatched) & (1<<tokensMatchedBits - 1)
	fs := fieldScore & (1<<fieldScoreBits - 1)
	fw := uint64(fieldWeight)
	nf := uint64(numMatchingFields) & (1<<numFieldsBits - 1)

	var v uint64
	if matchType == MatchTypeMaxWeight {
		v = tm<<(fieldWeightBits+fieldScoreBits+numFieldsBits) |
			fw<<(fieldScoreBits+numFieldsBits) |
			fs<<numFieldsBits | nf
	} else {
		v = tm<<(fieldScoreBits+fieldWeightBits+numFieldsBits) |
			fs<<(fieldWeightBits+numFieldsBits) |
			fw<<numFieldsBits | nf
	}
	return int64(v) //nolint:gosec // sign bit is left clear by construction
}

// DecodeTextMatch unpacks a 64-bit score into its exposed sub-fields.
// typo_prefix_score is 255 minus the 8 bits right below tokens_matched in
// the max_score scheme (the best field score's top byte carries it).
func DecodeTextMatch(score int64, matchType string) TextMatchInfo {
	v := uint64(score) //nolint:gosec // packed layout, sign bit clear

	info := TextMatchInfo{Score: u64String(v)}
	if matchType == MatchTypeMaxWeight {
		info.NumMatchingFields = uint8(v & (1<<numFieldsBits - 1))
		v >>= numFieldsBits
		fs := v & (1<<fieldScoreBits - 1)
		info.BestFieldScore = u64String(fs)
		v >>= fieldScoreBits
		info.BestFieldWeight = uint8(v & (1<<fieldWeightBits - 1))
		v >>= fieldWeightBits
		info.TokensMatched = uint8(v & (1<<tokensMatchedBits - 1))
		info.TypoPrefixScore = 255 - uint8((fs>>(fieldScoreBits-8))&0xFF)
	} else {
		info.NumMatchingFields = uint8(v & (1<<numFieldsBits - 1))
		v >>= numFieldsBits
		info.BestFieldWeight = uint8(v & (1<<fieldWeightBits - 1))
		v >>= fieldWeightBits
		fs := v & (1<<fieldScoreBits - 1)
		info.BestFieldScore = u64String(fs)
		v >>= fieldScoreBits
		info.TokensMatched = uint8(v & (1<<tokensMatchedBits - 1))
		info.TypoPrefixScore = 255 - uint8((fs>>(fieldScoreBits-8))&0xFF)
	}
	return info
}

func u64String(v uint64) string {
	return strconv.FormatUint(v, 10)
}
