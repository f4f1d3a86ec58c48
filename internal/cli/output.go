package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

// Table — табличное представление результата команды.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Output печатает результаты команд в stdout, а сообщения в stderr.
// В режиме --json данные печатаются как JSON, таблицы не строятся.
type Output struct {
	jsonMode bool
	w        io.Writer
	errW     io.Writer
}

// NewOutput создаёт Output поверх os.Stdout и os.Stderr.
func NewOutput(jsonMode bool) *Output {
	return NewOutputTo(jsonMode, os.Stdout, os.Stderr)
}

// NewOutputTo создаёт Output с заданными потоками.
func NewOutputTo(jsonMode bool, w, errW io.Writer) *Output {
	return &Output{jsonMode: jsonMode, w: w, errW: errW}
}

// Print выводит data как JSON или t как таблицу.
func (o *Output) Print(t Table, data any) error {
	if o.jsonMode {
		return o.JSON(data)
	}
	if len(t.Rows) == 0 {
		o.Infof("No results.")
		return nil
	}
	return o.Table(t)
}

// Table выводит таблицу с подчёркнутыми заголовками.
func (o *Output) Table(t Table) error {
	tw := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)

	underline := make([]string, len(t.Headers))
	for i, h := range t.Headers {
		underline[i] = strings.Repeat("-", len(h))
	}

	for _, row := range append([][]string{t.Headers, underline}, t.Rows...) {
		if _, err := fmt.Fprintln(tw, strings.Join(row, "\t")); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// JSON выводит v с отступами.
func (o *Output) JSON(v any) error {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Infof пишет сообщение для человека в stderr.
func (o *Output) Infof(format string, args ...any) {
	fmt.Fprintf(o.errW, format+"\n", args...)
}

// Errorf пишет сообщение об ошибке в stderr.
func (o *Output) Errorf(format string, args ...any) {
	fmt.Fprintf(o.errW, "Error: "+format+"\n", args...)
}
