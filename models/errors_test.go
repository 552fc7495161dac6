package models_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/mzalendo-mfg/factory_backend/models"
)

func TestShortageError_ItemizesEveryLine(t *testing.T) {
	err := models.NewInsufficientMaterialsError([]models.ShortageItem{
		{Name: "Wheat Flour", Code: "RM001", Required: dec("22"), Available: dec("8"), Shortage: dec("14")},
		{Name: "Sugar", Code: "RM002", Required: dec("5"), Available: dec("0"), Shortage: dec("5")},
	})

	msg := err.Error()
	for _, want := range []string{"RM001", "RM002", "required 22", "available 8", "short 14", "short 5"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message missing %q: %s", want, msg)
		}
	}
}

func TestErrorKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want models.ErrorKind
	}{
		{models.NewValidationError("bad input"), models.ErrorKindValidation},
		{models.NewInvalidStateError("wrong state"), models.ErrorKindInvalidState},
		{models.NewInvalidTransitionError("batch", "Completed", "Planned"), models.ErrorKindInvalidTransition},
		{models.NewNotFoundError("bom", 7), models.ErrorKindNotFound},
		{models.NewInsufficientStockError(), models.ErrorKindInsufficientStock},
		{models.NewInsufficientMaterialsError(nil), models.ErrorKindInsufficientMaterials},
		{models.NewInsufficientInventoryError(nil), models.ErrorKindInsufficientInventory},
		{errors.New("plain"), models.ErrorKind("")},
	}
	for _, tc := range cases {
		if got := models.ErrorKindOf(tc.err); got != tc.want {
			t.Errorf("ErrorKindOf(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestInvalidTransitionError_NamesBothStates(t *testing.T) {
	err := models.NewInvalidTransitionError("production batch", "Completed", "In Progress")
	msg := err.Error()
	if !strings.Contains(msg, "Completed") || !strings.Contains(msg, "In Progress") {
		t.Fatalf("transition error should name both states: %s", msg)
	}
}
