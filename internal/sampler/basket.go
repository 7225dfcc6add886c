package sampler

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// WriteBasket writes transactions in basket format: one transaction per line,
// items separated by single spaces. Empty transactions are empty lines.
func WriteBasket(w io.Writer, txs [][]int) error {
	bw := bufio.NewWriter(w)
	for _, tx := range txs {
		for i, item := range tx {
			if i > 0 {
				if err := bw.WriteByte(' '); err != nil {
					return err
				}
			}
			if _, err := bw.WriteString(strconv.Itoa(item)); err != nil {
				return err
			}
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadBasket parses basket-format transactions.
func ReadBasket(r io.Reader) ([][]int, error) {
	var txs [][]int
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		tx := make([]int, 0, len(fields))
		for _, f := range fields {
			item, err := strconv.Atoi(f)
			if err != nil {
				return nil, fmt.Errorf("line %d: parsing item %q: %w", line, f, err)
			}
			if item < 1 {
				return nil, fmt.Errorf("line %d: item %d is not positive", line, item)
			}
			tx = append(tx, item)
		}
		txs = append(txs, tx)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading baskets: %w", err)
	}
	return txs, nil
}
