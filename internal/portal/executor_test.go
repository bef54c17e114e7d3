package portal_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/giro-cli/internal/model"
	"github.com/sells-group/giro-cli/internal/parser"
	"github.com/sells-group/giro-cli/internal/portal"
	"github.com/sells-group/giro-cli/internal/portal/mocks"
	"github.com/sells-group/giro-cli/internal/resilience"
)

const (
	resultsMarkup = `<table><tr><td>NIT-900123456-CLINICA</td><td>05/01/2026</td>` +
		`<td>$ 1.000</td><td>GIRO</td><td>EPS</td><td>-</td></tr></table>`
	noResultsMarkup = `<div>No se encontraron registros</div>`
	loadingMarkup   = `<div>Cargando...</div>`
	formMarkup      = `<form><input type="text"/></form>`
	headerMarkup    = `<table><tr><td>Beneficiario</td><td>Fecha</td><td>Valor</td>` +
		`<td>Concepto</td><td>Entidad</td><td></td></tr></table>`
)

func newExecutor(timeout time.Duration) *portal.Executor {
	return portal.NewExecutor(portal.ExecutorConfig{
		QueryTimeout: timeout,
		PollInitial:  time.Millisecond,
		PollCap:      2 * time.Millisecond,
		PeriodStart:  "01/01/2025",
		PeriodEnd:    "31/01/2026",
	}, parser.New(parser.DefaultSelectors()))
}

func TestExecute_Results(t *testing.T) {
	s := mocks.NewMockSession(t)
	s.On("Snapshot", mock.Anything).Return(formMarkup, nil).Once()
	s.On("Submit", mock.Anything, portal.Query{
		Identifier:  "900123456",
		PeriodStart: "01/01/2025",
		PeriodEnd:   "31/01/2026",
	}).Return(nil).Once()
	s.On("Snapshot", mock.Anything).Return(loadingMarkup, nil).Twice()
	s.On("Snapshot", mock.Anything).Return(resultsMarkup, nil).Once()

	resp, err := newExecutor(time.Second).Execute(context.Background(), s, "900123456")
	require.NoError(t, err)
	assert.Equal(t, model.ResponseResults, resp.Kind)
	assert.Equal(t, resultsMarkup, resp.Markup)
	assert.Equal(t, "900123456", resp.Identifier)
}

func TestExecute_WaitsPastPartialRender(t *testing.T) {
	s := mocks.NewMockSession(t)
	s.On("Snapshot", mock.Anything).Return(formMarkup, nil).Once()
	s.On("Submit", mock.Anything, mock.Anything).Return(nil).Once()
	s.On("Snapshot", mock.Anything).Return(headerMarkup+loadingMarkup, nil).Twice()
	s.On("Snapshot", mock.Anything).Return(headerMarkup, nil).Once()
	s.On("Snapshot", mock.Anything).Return(resultsMarkup, nil).Once()

	p := parser.New(parser.DefaultSelectors())
	resp, err := newExecutor(time.Second).Execute(context.Background(), s, "900123456")
	require.NoError(t, err)
	assert.Equal(t, model.ResponseResults, resp.Kind)
	assert.Equal(t, resultsMarkup, resp.Markup)

	records, err := p.Parse(resp)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "1000.00", records[0].AmountString())
}

func TestExecute_NoResultsIsNotAnError(t *testing.T) {
	s := mocks.NewMockSession(t)
	s.On("Snapshot", mock.Anything).Return(formMarkup, nil).Once()
	s.On("Submit", mock.Anything, mock.Anything).Return(nil).Once()
	s.On("Snapshot", mock.Anything).Return(noResultsMarkup, nil)

	resp, err := newExecutor(time.Second).Execute(context.Background(), s, "900999999")
	require.NoError(t, err)
	assert.Equal(t, model.ResponseNoResults, resp.Kind)
}

func TestExecute_TimeoutSignal(t *testing.T) {
	s := mocks.NewMockSession(t)
	s.On("Snapshot", mock.Anything).Return(formMarkup, nil)
	s.On("Submit", mock.Anything, mock.Anything).Return(nil).Once()

	_, err := newExecutor(20*time.Millisecond).Execute(context.Background(), s, "900999999")
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrRenderTimeout)
	assert.True(t, resilience.IsTransient(err))
}

func TestExecute_UnchangedMarkupIsPending(t *testing.T) {
	// A stale report left over from the previous query must not be taken
	// as this query's result.
	s := mocks.NewMockSession(t)
	s.On("Snapshot", mock.Anything).Return(resultsMarkup, nil)
	s.On("Submit", mock.Anything, mock.Anything).Return(nil).Once()

	_, err := newExecutor(20*time.Millisecond).Execute(context.Background(), s, "900123456")
	assert.ErrorIs(t, err, resilience.ErrRenderTimeout)
}

func TestExecute_SnapshotRaceKeepsPolling(t *testing.T) {
	s := mocks.NewMockSession(t)
	s.On("Snapshot", mock.Anything).Return(formMarkup, nil).Once()
	s.On("Submit", mock.Anything, mock.Anything).Return(nil).Once()
	s.On("Snapshot", mock.Anything).Return("", errors.New("frame detached")).Once()
	s.On("Snapshot", mock.Anything).Return(resultsMarkup, nil).Once()

	resp, err := newExecutor(time.Second).Execute(context.Background(), s, "900123456")
	require.NoError(t, err)
	assert.Equal(t, model.ResponseResults, resp.Kind)
}

func TestExecute_SessionErrorPropagates(t *testing.T) {
	s := mocks.NewMockSession(t)
	s.On("Snapshot", mock.Anything).Return(formMarkup, nil).Once()
	s.On("Submit", mock.Anything, mock.Anything).Return(nil).Once()
	s.On("Snapshot", mock.Anything).Return("", resilience.NewSessionError(errors.New("target closed"))).Once()

	_, err := newExecutor(time.Second).Execute(context.Background(), s, "900123456")
	require.Error(t, err)
	assert.True(t, resilience.IsSession(err))
}

func TestExecute_SubmitFailureIsTransient(t *testing.T) {
	s := mocks.NewMockSession(t)
	s.On("Snapshot", mock.Anything).Return(formMarkup, nil).Once()
	s.On("Submit", mock.Anything, mock.Anything).Return(errors.New("form not ready")).Once()

	_, err := newExecutor(time.Second).Execute(context.Background(), s, "900123456")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestExecute_BlockedPageIsTransient(t *testing.T) {
	s := mocks.NewMockSession(t)
	s.On("Snapshot", mock.Anything).Return(formMarkup, nil).Once()
	s.On("Submit", mock.Anything, mock.Anything).Return(nil).Once()
	s.On("Snapshot", mock.Anything).Return(`<div class="g-recaptcha"></div>`, nil).Once()

	_, err := newExecutor(time.Second).Execute(context.Background(), s, "900123456")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, "blocked", resilience.Reason(err))
}

func TestExecute_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := mocks.NewMockSession(t)
	s.On("Snapshot", mock.Anything).Return(formMarkup, nil).Once()
	s.On("Submit", mock.Anything, mock.Anything).Return(nil).Once()
	s.On("Snapshot", mock.Anything).Run(func(mock.Arguments) { cancel() }).Return(formMarkup+" ", nil)

	_, err := newExecutor(time.Minute).Execute(ctx, s, "900123456")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
