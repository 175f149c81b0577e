package api

import (
	"net/http"
	"testing"

	"github.com/552020/futura-alpha-icp-sub003/internal/core"
)

func TestStatusForKnownKinds(t *testing.T) {
	cases := []struct {
		kind core.Kind
		want int
	}{
		{core.KindNotFound, http.StatusNotFound},
		{core.KindInvalidArgument, http.StatusBadRequest},
		{core.KindOutOfRange, http.StatusBadRequest},
		{core.KindLengthMismatch, http.StatusBadRequest},
		{core.KindHashMismatch, http.StatusBadRequest},
		{core.KindIncompleteUpload, http.StatusBadRequest},
		{core.KindInvalidState, http.StatusConflict},
		{core.KindTooLarge, http.StatusRequestEntityTooLarge},
		{core.KindConflict, http.StatusConflict},
		{core.KindAlreadyExists, http.StatusConflict},
		{core.KindUnauthorized, http.StatusUnauthorized},
		{core.KindInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.kind); got != tc.want {
			t.Errorf("statusFor(%s) = %d, want %d", tc.kind, got, tc.want)
		}
	}
}

func TestStatusForUnknownKindDefaultsToInternal(t *testing.T) {
	if got := statusFor(core.Kind("SomethingNew")); got != http.StatusInternalServerError {
		t.Errorf("got %d, want %d", got, http.StatusInternalServerError)
	}
}
