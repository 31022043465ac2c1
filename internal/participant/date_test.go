package participant

import (
	"errors"
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    Date
		wantErr bool
	}{
		{in: "10.01.1990", want: Date{1990, time.January, 10}},
		{in: " 29.02.2000 ", want: Date{2000, time.February, 29}},
		{in: "29.02.2001", wantErr: true},
		{in: "1990-01-10", wantErr: true},
		{in: "", wantErr: true},
		{in: "32.01.1990", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseDate(tc.in)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidDate) {
				t.Fatalf("ParseDate(%q) err = %v, want ErrInvalidDate", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseDate(%q) unexpected err: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseDate(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}

func TestDateRoundTripForms(t *testing.T) {
	t.Parallel()

	d := Date{1985, time.March, 7}
	if got := d.String(); got != "07.03.1985" {
		t.Fatalf("String() = %q", got)
	}
	if got := d.StorageString(); got != "1985-03-07" {
		t.Fatalf("StorageString() = %q", got)
	}
	back, err := ParseStorageDate(d.StorageString())
	if err != nil || back != d {
		t.Fatalf("ParseStorageDate = %+v, %v", back, err)
	}
	if (Date{}).String() != "—" || (Date{}).StorageString() != "" {
		t.Fatalf("zero date should render as placeholder")
	}
}

func TestInYearLeapDay(t *testing.T) {
	t.Parallel()

	leap := Date{2000, time.February, 29}
	if _, ok := leap.InYear(2023); ok {
		t.Fatalf("Feb 29 should not exist in 2023")
	}
	got, ok := leap.InYear(2024)
	if !ok || got != (Date{2024, time.February, 29}) {
		t.Fatalf("InYear(2024) = %+v, %v", got, ok)
	}
	if _, ok := (Date{}).InYear(2024); ok {
		t.Fatalf("zero date must not recur")
	}
}

func TestAtNormalizesAcrossMonths(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("MSK", 3*3600)
	d := Date{2024, time.March, 2}
	got := d.At(loc, 12, 0, 3)
	want := time.Date(2024, time.February, 28, 12, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("At = %v, want %v", got, want)
	}
}

func TestPatchApply(t *testing.T) {
	t.Parallel()

	name := "  Ann Lee "
	admin := true
	p := Participant{ID: 1, Name: "old", Wish: "book"}
	out := Patch{Name: &name, IsAdmin: &admin}.Apply(p)
	if out.Name != "Ann Lee" || !out.IsAdmin || out.Wish != "book" {
		t.Fatalf("Apply = %+v", out)
	}
	if !(Patch{}).IsEmpty() {
		t.Fatalf("empty patch should report IsEmpty")
	}
}
