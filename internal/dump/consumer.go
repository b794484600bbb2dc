package dump

import (
	"github.com/rs/zerolog"
)

// RunQuoteConsumer drains q, writing each QuoteRecord through w, until q is
// stopped. IO write errors are logged and the offending record dropped;
// processing continues.
func RunQuoteConsumer(q *Queue, w *BlockWriter, logger zerolog.Logger) {
	defer w.Close()
	for {
		item, ok := q.Pop()
		if !ok {
			return
		}
		rec := item.(QuoteRecord)
		block := w.BlockIndex(rec.Timestamp)
		if err := w.WriteLine(block, FormatQuoteLine(rec)); err != nil {
			logger.Error().Err(err).Msg("dump: failed to write quote record")
		}
	}
}

// RunTradeConsumer drains q, writing each TradeRecord through w, until q is
// stopped.
func RunTradeConsumer(q *Queue, w *BlockWriter, logger zerolog.Logger) {
	defer w.Close()
	for {
		item, ok := q.Pop()
		if !ok {
			return
		}
		rec := item.(TradeRecord)
		block := w.BlockIndex(rec.Timestamp)
		if err := w.WriteLine(block, FormatTradeLine(rec)); err != nil {
			logger.Error().Err(err).Msg("dump: failed to write trade record")
		}
	}
}
