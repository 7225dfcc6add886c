package visualization

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/nvandessel/rulesim/internal/experiment"
)

var curveHeader = []string{
	"t", "median_loss", "median_loss_rate", "median_precision", "median_recall",
	"mean_loss_rate", "std_loss_rate", "degenerate",
}

// RenderCurveCSV writes one CSV row per grid point.
func RenderCurveCSV(w io.Writer, points []experiment.CurvePoint) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(curveHeader); err != nil {
		return err
	}
	for _, p := range points {
		row := []string{
			strconv.Itoa(p.T),
			formatFloat(p.MedianLoss),
			formatFloat(p.MedianLossRate),
			formatFloat(p.MedianPrecision),
			formatFloat(p.MedianRecall),
			formatFloat(p.MeanLossRate),
			formatFloat(p.StdLossRate),
			strconv.Itoa(p.Degenerate),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// RenderCurveTable writes the curve as an aligned text table followed by the
// loss summary.
func RenderCurveTable(w io.Writer, rep *experiment.Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "t\tloss\tloss/t\tprecision\trecall\tmean loss/t\tstd loss/t\tdegenerate\t")
	for _, p := range rep.Points {
		fmt.Fprintf(tw, "%d\t%.1f\t%.4f\t%.4f\t%.4f\t%.4f\t%.4f\t%d\t\n",
			p.T, p.MedianLoss, p.MedianLossRate, p.MedianPrecision, p.MedianRecall,
			p.MeanLossRate, p.StdLossRate, p.Degenerate)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	s := rep.LossSummary()
	_, err := fmt.Fprintf(w, "\nMin Loss: %.4f\nMax Loss: %.4f\nAverage Loss: %.4f\n", s.Min, s.Max, s.Average)
	return err
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
