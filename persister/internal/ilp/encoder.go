// Package ilp renders normalized ticks as InfluxDB line protocol, the wire
// format QuestDB ingests over its raw TCP listener.
package ilp

import (
	"strconv"
	"strings"

	"github.com/tickflow-systems/tickflow-stack/common/models"
)

// Measurement is the table every tick lands in.
const Measurement = "trades"

// Encode renders one tick as a single line, without the trailing newline:
//
//	trades,symbol=<SYM> price=<F>,qty=<F>,trade_id=<I>i,is_bm=<B>,msg_id="<S>",ts_ms=<I>i <NS>
//
// Integer fields carry the `i` suffix, floats do not, booleans render as
// literal true/false, and the trailing timestamp is ts_ms promoted to
// nanoseconds. The line is immutable once built.
func Encode(tick models.NormalizedTick, msgID string) []byte {
	var b strings.Builder
	b.Grow(96 + len(tick.Symbol) + len(msgID))

	b.WriteString(Measurement)
	b.WriteString(",symbol=")
	b.WriteString(escapeTag(tick.Symbol))

	b.WriteString(" price=")
	b.WriteString(formatFloat(tick.Price))
	b.WriteString(",qty=")
	b.WriteString(formatFloat(tick.Qty))
	b.WriteString(",trade_id=")
	b.WriteString(strconv.FormatInt(tick.TradeID, 10))
	b.WriteString("i,is_bm=")
	b.WriteString(strconv.FormatBool(tick.IsBM))
	b.WriteString(`,msg_id="`)
	b.WriteString(escapeString(msgID))
	b.WriteString(`",ts_ms=`)
	b.WriteString(strconv.FormatInt(tick.TsMs, 10))
	b.WriteString("i ")

	b.WriteString(strconv.FormatInt(tick.TsMs*1_000_000, 10))

	return []byte(b.String())
}

// formatFloat renders without an exponent so the sink's parser never sees
// scientific notation.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

var tagEscaper = strings.NewReplacer(
	",", `\,`,
	"=", `\=`,
	" ", `\ `,
)

func escapeTag(s string) string {
	return tagEscaper.Replace(s)
}

var stringEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
)

func escapeString(s string) string {
	return stringEscaper.Replace(s)
}
