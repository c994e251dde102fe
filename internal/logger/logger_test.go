package logger

import (
	"bytes"
	"log/slog"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	textTraceString   = `^time="[a-zA-Z0-9/:. ]{26}" severity=TRACE message="TestLogs: www.traceExample.com"`
	textDebugString   = `^time="[a-zA-Z0-9/:. ]{26}" severity=DEBUG message="TestLogs: www.debugExample.com"`
	textInfoString    = `^time="[a-zA-Z0-9/:. ]{26}" severity=INFO message="TestLogs: www.infoExample.com"`
	textWarningString = `^time="[a-zA-Z0-9/:. ]{26}" severity=WARNING message="TestLogs: www.warningExample.com"`
	textErrorString   = `^time="[a-zA-Z0-9/:. ]{26}" severity=ERROR message="TestLogs: www.errorExample.com"`

	jsonInfoString = `^{"timestamp":{"seconds":\d{10},"nanos":\d{0,9}},"severity":"INFO","message":"TestLogs: www.infoExample.com"}`
)

func redirectLogsToGivenBuffer(buf *bytes.Buffer, format, severity string) {
	programLevel := newLevelVar(severity)
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandlerForTest(buf, programLevel, format, "TestLogs: "))
}

// createJsonOrTextHandlerForTest lets the test fix the format explicitly
// without racing defaultLoggerFactory.format, which Init/SetLogFormat also
// mutate.
func (f *loggerFactory) createJsonOrTextHandlerForTest(w *bytes.Buffer, programLevel *slog.LevelVar, format, prefix string) slog.Handler {
	return &textOrJSONHandler{w: w, programLevel: programLevel, prefix: prefix, format: format, mu: &f.mu}
}

func getTestLoggingFunctions() []func() {
	return []func(){
		func() { Tracef("www.traceExample.com") },
		func() { Debugf("www.debugExample.com") },
		func() { Infof("www.infoExample.com") },
		func() { Warnf("www.warningExample.com") },
		func() { Errorf("www.errorExample.com") },
	}
}

func fetchLogOutput(t *testing.T, format, severity string) []string {
	t.Helper()
	var buf bytes.Buffer
	redirectLogsToGivenBuffer(&buf, format, severity)

	var output []string
	for _, f := range getTestLoggingFunctions() {
		f()
		output = append(output, buf.String())
		buf.Reset()
	}
	return output
}

func validateOutput(t *testing.T, expected, output []string) {
	t.Helper()
	for i := range output {
		if expected[i] == "" {
			assert.Equal(t, expected[i], output[i])
			continue
		}
		re := regexp.MustCompile(expected[i])
		assert.True(t, re.MatchString(output[i]), "line %d: %q did not match %q", i, output[i], expected[i])
	}
}

func TestTextFormatLogs_LevelERROR(t *testing.T) {
	expected := []string{"", "", "", "", textErrorString}
	validateOutput(t, expected, fetchLogOutput(t, "text", ERROR))
}

func TestTextFormatLogs_LevelWARNING(t *testing.T) {
	expected := []string{"", "", "", textWarningString, textErrorString}
	validateOutput(t, expected, fetchLogOutput(t, "text", WARNING))
}

func TestTextFormatLogs_LevelINFO(t *testing.T) {
	expected := []string{"", "", textInfoString, textWarningString, textErrorString}
	validateOutput(t, expected, fetchLogOutput(t, "text", INFO))
}

func TestTextFormatLogs_LevelDEBUG(t *testing.T) {
	expected := []string{"", textDebugString, textInfoString, textWarningString, textErrorString}
	validateOutput(t, expected, fetchLogOutput(t, "text", DEBUG))
}

func TestTextFormatLogs_LevelTRACE(t *testing.T) {
	expected := []string{textTraceString, textDebugString, textInfoString, textWarningString, textErrorString}
	validateOutput(t, expected, fetchLogOutput(t, "text", TRACE))
}

func TestTextFormatLogs_LevelOFF(t *testing.T) {
	expected := []string{"", "", "", "", ""}
	validateOutput(t, expected, fetchLogOutput(t, "text", OFF))
}

func TestJSONFormatLogs_LevelINFO(t *testing.T) {
	var buf bytes.Buffer
	redirectLogsToGivenBuffer(&buf, "json", INFO)
	Infof("www.infoExample.com")

	re := regexp.MustCompile(jsonInfoString)
	assert.True(t, re.MatchString(buf.String()))
}

func TestSetLoggingLevel(t *testing.T) {
	testData := []struct {
		severity      string
		expectedLevel slog.Level
	}{
		{TRACE, LevelTrace},
		{DEBUG, LevelDebug},
		{INFO, LevelInfo},
		{WARNING, LevelWarn},
		{ERROR, LevelError},
		{OFF, LevelOff},
	}

	for _, test := range testData {
		v := &slog.LevelVar{}
		setLoggingLevel(test.severity, v)
		assert.Equal(t, test.expectedLevel, v.Level())
	}
}

func TestSetLogFormat(t *testing.T) {
	require := assert.New(t)

	SetLogFormat("text")
	require.Equal("text", defaultLoggerFactory.format)

	SetLogFormat("json")
	require.Equal("json", defaultLoggerFactory.format)
}

func TestInitWritesToFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/blitze.log"

	err := Init("text", INFO, path, DefaultRotateConfig())
	assert.NoError(t, err)
	assert.Equal(t, path, defaultLoggerFactory.file.Name())

	Infof("hello %s", "file")

	assert.NoError(t, Init("json", INFO, "", DefaultRotateConfig()))
}
