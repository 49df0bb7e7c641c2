// Package roster parses participant lists exported from HR spreadsheets.
//
// A roster is tab separated with the columns hire date (YYYY-MM-DD),
// employee ID and name. An optional header row is detected and skipped.
package roster

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"luckydraw/internal/models"
)

var (
	ErrMalformedRow         = errors.New("malformed row")
	ErrDuplicateParticipant = errors.New("duplicate participant")
)

// headerMarker is the hire date column title used by the HR export.
const headerMarker = "入职时间"

// maxLineSize bounds a single roster line.
const maxLineSize = 1 << 20

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Result is a parsed roster together with the rows that were skipped.
type Result struct {
	Participants  []models.Participant
	Issues        []models.RowIssue
	HeaderSkipped bool
}

// Load reads a roster. Bad rows are reported in Result.Issues and never fail the load;
// only a read failure returns an error.
func Load(r io.Reader) (*Result, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	text, err := decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode roster: %w", err)
	}

	// Fields are plain tab separated text. Quotes carry no meaning.
	scanner := bufio.NewScanner(bytes.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	res := &Result{Participants: make([]models.Participant, 0)}
	seen := make(map[string]string) // employee ID -> name
	first := true
	line := 0

	for scanner.Scan() {
		line++
		fields := trimAll(strings.Split(scanner.Text(), "\t"))
		if isBlank(fields) {
			continue
		}
		if first {
			first = false
			if isHeader(fields) {
				res.HeaderSkipped = true
				continue
			}
		}

		p, issue := parseRow(fields)
		if issue != nil {
			issue.Line = line
			res.Issues = append(res.Issues, *issue)
			continue
		}

		if name, ok := seen[p.EmployeeID]; ok {
			detail := fmt.Sprintf("%s (%s) already listed", p.Name, p.EmployeeID)
			if name != p.Name {
				detail = fmt.Sprintf("employee ID %s already used by %s", p.EmployeeID, name)
			}
			res.Issues = append(res.Issues, models.RowIssue{Line: line, Kind: ErrDuplicateParticipant, Detail: detail})
			continue
		}
		seen[p.EmployeeID] = p.Name
		res.Participants = append(res.Participants, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("parse roster line %d: %w", line+1, err)
	}

	return res, nil
}

// decode converts the upload to UTF-8. Spreadsheet exports on Chinese locales are
// frequently GB18030, so anything that is not valid UTF-8 is decoded as such.
func decode(raw []byte) ([]byte, error) {
	if utf8.Valid(raw) {
		out, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), raw)
		return out, err
	}
	return simplifiedchinese.GB18030.NewDecoder().Bytes(raw)
}

func parseRow(fields []string) (models.Participant, *models.RowIssue) {
	if len(fields) < 3 || fields[0] == "" || fields[1] == "" || fields[2] == "" {
		return models.Participant{}, &models.RowIssue{Kind: ErrMalformedRow, Detail: "missing required field"}
	}

	hireDate, ok := parseDate(fields[0])
	if !ok {
		return models.Participant{}, &models.RowIssue{
			Kind:   ErrMalformedRow,
			Detail: fmt.Sprintf("hire date %q is not a valid YYYY-MM-DD date", fields[0]),
		}
	}

	return models.Participant{
		HireDate:   hireDate,
		EmployeeID: fields[1],
		Name:       fields[2],
	}, nil
}

func parseDate(v string) (time.Time, bool) {
	if !datePattern.MatchString(v) {
		return time.Time{}, false
	}
	d, err := time.Parse(models.DateLayout, v)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

// isHeader treats the first row as a header if it names the hire date column or
// carries no digits at all. Dates and employee IDs always contain digits, so a
// data row with a bad date is reported rather than skipped.
func isHeader(fields []string) bool {
	for _, f := range fields {
		if strings.Contains(f, headerMarker) {
			return true
		}
	}
	for _, f := range fields {
		if strings.ContainsAny(f, "0123456789") {
			return false
		}
	}
	return true
}

func trimAll(record []string) []string {
	out := make([]string, len(record))
	for i, f := range record {
		out[i] = strings.TrimSpace(f)
	}
	return out
}

func isBlank(fields []string) bool {
	for _, f := range fields {
		if f != "" {
			return false
		}
	}
	return true
}
