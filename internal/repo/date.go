package repo

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// storedLayout is fixed-width so that text ordering matches time ordering,
// which MAX(visited_at) and ORDER BY created_at rely on.
const storedLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Formats accepted when reading. The last one is what CURRENT_TIMESTAMP writes.
var scanLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
}

// Date is a UTC timestamp stored as text.
type Date time.Time

func (d Date) Value() (driver.Value, error) {
	return d.stored(), nil
}

func (d Date) stored() string {
	return time.Time(d).UTC().Format(storedLayout)
}

func (d *Date) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*d = Date{}
		return nil
	case time.Time:
		*d = Date(v.UTC())
		return nil
	case []byte:
		return d.parse(string(v))
	case string:
		return d.parse(v)
	}
	return fmt.Errorf("cannot scan type %T into Date", value)
}

func (d *Date) parse(s string) error {
	for _, layout := range scanLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			*d = Date(t.UTC())
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

func (d Date) Time() time.Time {
	return time.Time(d)
}

// nullDate converts an optional time into a value goqu can write; nil becomes NULL.
func nullDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return Date(*t)
}

func (d *Date) timePtr() *time.Time {
	if d == nil {
		return nil
	}
	t := time.Time(*d)
	return &t
}
