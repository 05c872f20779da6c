package pagination

import (
	"errors"
	"net/url"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		query   string
		want    Window
		wantErr error
	}{
		{query: "", want: Window{Size: DefaultSize}},
		{query: "pageSize=5", want: Window{Size: 5}},
		{query: "pageSize=0", want: Window{Size: DefaultSize}},
		{query: "pageSize=-4", want: Window{Size: DefaultSize}},
		{query: "pageSize=1000", want: Window{Size: MaxSize}},
		{query: "pageSize=ten", wantErr: ErrInvalidPageSize},
		{query: "pageToken=" + EncodeOffset(40), want: Window{Size: DefaultSize, Token: EncodeOffset(40), Offset: 40}},
		{query: "pageToken=%25%25", wantErr: ErrInvalidPageToken},
		{query: "page=3&size=10", want: Window{Size: 10, Token: EncodeOffset(30), Offset: 30}},
		{query: "page=0&size=10", want: Window{Size: 10}},
		{query: "page=-1", wantErr: ErrInvalidPageToken},
	}
	for _, tc := range tests {
		t.Run(tc.query, func(t *testing.T) {
			q, err := url.ParseQuery(tc.query)
			if err != nil {
				t.Fatalf("bad fixture: %v", err)
			}
			got, err := Parse(q)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil || got != tc.want {
				t.Fatalf("Parse = %+v, %v; want %+v", got, err, tc.want)
			}
		})
	}
}

func TestOffsetTokens(t *testing.T) {
	if EncodeOffset(0) != "" {
		t.Fatal("the first page has no token")
	}
	for _, offset := range []int{1, 20, 12345} {
		got, err := DecodeOffset(EncodeOffset(offset))
		if err != nil || got != offset {
			t.Fatalf("offset %d decoded as %d, %v", offset, got, err)
		}
	}
	if _, err := DecodeOffset("eyJvIjotMX0"); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("negative offsets must be rejected, got %v", err)
	}
}
