package report

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/herclab/quakecast/pkg/train"
)

// Summary renders the final scores of a run as a terminal table.
func Summary(title string, res *train.Results, rec MetricsRecord) string {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.SetTitle(title)
	tbl.AppendHeader(table.Row{"", "RMSE", "MAE", "R2"})
	tbl.AppendRow(table.Row{"test (all channels)", fmtFloat(rec.Overall.RMSE), fmtFloat(rec.Overall.MAE), fmtFloat(rec.Overall.R2)})
	for _, ch := range rec.PerChannel {
		tbl.AppendRow(table.Row{"test " + ch.Channel, fmtFloat(ch.RMSE), fmtFloat(ch.MAE), fmtFloat(ch.R2)})
	}
	if n := len(res.EvalRMSE); n > 0 && res.EvalSplit != train.SplitTest {
		tbl.AppendSeparator()
		tbl.AppendRow(table.Row{res.EvalSplit + " (last epoch)", fmtFloat(res.EvalRMSE[n-1]), "", fmtFloat(res.EvalR2[n-1])})
	}
	tbl.AppendFooter(table.Row{fmt.Sprintf("%d epochs", res.Epochs)})
	return tbl.Render()
}

func fmtFloat(v float64) string {
	return fmt.Sprintf("%.4g", v)
}
