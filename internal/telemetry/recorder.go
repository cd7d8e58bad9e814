package telemetry

import (
	"context"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterRecorderName = "github.com/steveyegge/muxsh"
	loggerName        = "muxsh"
)

// recorderInstruments holds the lazily registered metric instruments.
type recorderInstruments struct {
	dispatchTotal    metric.Int64Counter
	commandEndTotal  metric.Int64Counter
	sendTotal        metric.Int64Counter
	sendBytes        metric.Int64Counter
	sessionStarts    metric.Int64Counter
	sessionCloses    metric.Int64Counter
	unresolvedOnExit metric.Int64Histogram
}

var (
	instOnce sync.Once
	inst     recorderInstruments
)

// initInstruments registers the instruments against the current global
// MeterProvider. Init calls it after installing the real provider; the
// recorders call it too, so recording before Init goes to the no-op meter.
func initInstruments() {
	instOnce.Do(func() {
		m := otel.GetMeterProvider().Meter(meterRecorderName)

		inst.dispatchTotal, _ = m.Int64Counter("muxsh.commands.dispatched.total",
			metric.WithDescription("Commands dispatched into a session"),
		)
		inst.commandEndTotal, _ = m.Int64Counter("muxsh.commands.ended.total",
			metric.WithDescription("Commands whose sentinel was observed"),
		)
		inst.sendTotal, _ = m.Int64Counter("muxsh.input.sends.total",
			metric.WithDescription("Strings stuffed into a session"),
		)
		inst.sendBytes, _ = m.Int64Counter("muxsh.input.bytes.total",
			metric.WithDescription("Escaped bytes stuffed into a session"),
			metric.WithUnit("By"),
		)
		inst.sessionStarts, _ = m.Int64Counter("muxsh.session.spawns.total",
			metric.WithDescription("Multiplexer spawns, including restores"),
		)
		inst.sessionCloses, _ = m.Int64Counter("muxsh.session.closes.total",
			metric.WithDescription("Shell exits observed on the transport"),
		)
		inst.unresolvedOnExit, _ = m.Int64Histogram("muxsh.session.unresolved_on_close",
			metric.WithDescription("Commands still pending when the shell exited"),
		)
	})
}

func statusStr(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// emit sends an OTel log event with the given body and attributes.
func emit(ctx context.Context, body string, sev otellog.Severity, attrs ...otellog.KeyValue) {
	logger := global.GetLoggerProvider().Logger(loggerName)
	var r otellog.Record
	r.SetBody(otellog.StringValue(body))
	r.SetSeverity(sev)
	r.AddAttributes(attrs...)
	logger.Emit(ctx, r)
}

func errKV(err error) otellog.KeyValue {
	if err != nil {
		return otellog.String("error", err.Error())
	}
	return otellog.String("error", "")
}

func severity(err error) otellog.Severity {
	if err != nil {
		return otellog.SeverityError
	}
	return otellog.SeverityInfo
}

// RecordDispatch records a command handed to a session.
func RecordDispatch(ctx context.Context, session string, background bool) {
	initInstruments()
	inst.dispatchTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.Bool("background", background)),
	)
	emit(ctx, "command.dispatch", otellog.SeverityDebug,
		otellog.String("session", session),
		otellog.Bool("background", background),
	)
}

// RecordCommandEnded records a resolved sentinel.
func RecordCommandEnded(ctx context.Context, session string, exitCode int) {
	initInstruments()
	inst.commandEndTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("exit_code", strconv.Itoa(exitCode))),
	)
	sev := otellog.SeverityInfo
	if exitCode != 0 {
		sev = otellog.SeverityWarn
	}
	emit(ctx, "command.ended", sev,
		otellog.String("session", session),
		otellog.Int("exit_code", exitCode),
	)
}

// RecordStringSent records input delivered to a session.
func RecordStringSent(ctx context.Context, session string, bytes int) {
	initInstruments()
	attrs := metric.WithAttributes(attribute.String("status", "ok"))
	inst.sendTotal.Add(ctx, 1, attrs)
	inst.sendBytes.Add(ctx, int64(bytes), attrs)
}

// RecordSendFailure records input the multiplexer refused.
func RecordSendFailure(ctx context.Context, session string, err error) {
	initInstruments()
	inst.sendTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", statusStr(err))),
	)
	emit(ctx, "input.send", severity(err),
		otellog.String("session", session),
		errKV(err),
	)
}

// RecordSessionRestart records a multiplexer spawn attempt.
func RecordSessionRestart(ctx context.Context, session string, err error) {
	initInstruments()
	status := statusStr(err)
	inst.sessionStarts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
	emit(ctx, "session.spawn", severity(err),
		otellog.String("session", session),
		otellog.String("status", status),
		errKV(err),
	)
}

// RecordSessionClosed records the shell going away while commands may
// still be pending.
func RecordSessionClosed(ctx context.Context, session string, unresolved int) {
	initInstruments()
	inst.sessionCloses.Add(ctx, 1)
	inst.unresolvedOnExit.Record(ctx, int64(unresolved))
	emit(ctx, "session.closed", otellog.SeverityWarn,
		otellog.String("session", session),
		otellog.Int("unresolved", unresolved),
	)
}
