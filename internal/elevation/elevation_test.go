package elevation

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"
)

type fakeStrategy struct {
	name  string
	err   error
	calls []Operation
}

func (f *fakeStrategy) Name() string { return f.name }

func (f *fakeStrategy) Execute(_ context.Context, op Operation) error {
	f.calls = append(f.calls, op)
	return f.err
}

type commandLog struct {
	calls [][]string
	fail  map[string]error
}

func (c *commandLog) run(_ context.Context, name string, args ...string) ([]byte, error) {
	c.calls = append(c.calls, append([]string{name}, args...))
	if len(args) > 0 {
		if err, ok := c.fail[args[0]]; ok {
			return nil, err
		}
	}
	return nil, nil
}

func found(file string) (string, error) { return `C:\Windows\System32\` + file, nil }

func missing(string) (string, error) { return "", os.ErrNotExist }

func TestOperationRoundTrip(t *testing.T) {
	op := Operation{Name: OpProtectFiles, Args: []string{`C:\Users\u\a b.txt`, "/home/u/ü"}}
	payload, err := op.Encode()
	require.NoError(t, err)
	assert.NotContains(t, payload, " ")
	assert.NotContains(t, payload, `"`)

	back, err := DecodeOperation(payload)
	require.NoError(t, err)
	assert.Equal(t, op, back)

	_, err = DecodeOperation("!!!")
	assert.Error(t, err)
}

func TestBrokerFallsBackOnlyWhenUnavailable(t *testing.T) {
	preferred := &fakeStrategy{name: "pref", err: ErrFacilityUnavailable}
	fallback := &fakeStrategy{name: "fb"}
	b := &Broker{Preferred: preferred, Fallback: fallback}

	require.NoError(t, b.ExecuteElevated(t.Context(), OpDisableTools))
	assert.Len(t, preferred.calls, 1)
	assert.Len(t, fallback.calls, 1)

	preferred.err = errors.New("task registration failed: access denied")
	fallback.calls = nil
	err := b.ExecuteElevated(t.Context(), OpDisableTools)
	assert.ErrorContains(t, err, "access denied")
	assert.Empty(t, fallback.calls)
}

func TestBrokerSurfaceWithoutDaemon(t *testing.T) {
	preferred := &fakeStrategy{name: "pref"}
	b := &Broker{Preferred: preferred}

	require.NoError(t, b.ProtectFiles(t.Context(), "/a", "/b"))
	require.NoError(t, b.UnprotectFiles(t.Context(), "/a"))
	require.NoError(t, b.DisableSystemTools(t.Context()))
	require.NoError(t, b.EnableSystemTools(t.Context()))
	require.NoError(t, b.InstallDaemon(t.Context()))

	names := make([]string, 0, len(preferred.calls))
	for _, c := range preferred.calls {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{OpProtectFiles, OpUnprotectFiles, OpDisableTools, OpEnableTools, OpInstallDaemon}, names)
	assert.Equal(t, []string{"/a", "/b"}, preferred.calls[0].Args)
}

func TestBrokerWithoutFallback(t *testing.T) {
	b := &Broker{Preferred: &fakeStrategy{err: ErrFacilityUnavailable}}
	assert.ErrorIs(t, b.ExecuteElevated(t.Context(), OpEnableTools), ErrFacilityUnavailable)
}

func TestTaskXML(t *testing.T) {
	task := ElevatedTask{Name: "FadCrypt-disable-tools-0011", Command: `C:\FadCrypt\helper.exe`, Arguments: []string{PayloadFlag, "abc"}}
	data, err := task.XML()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xfe}, data[:2])

	text, err := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder().Bytes(data)
	require.NoError(t, err)
	doc := string(text)

	assert.True(t, strings.HasPrefix(doc, `<?xml version="1.0" encoding="UTF-16"?>`))
	assert.Contains(t, doc, "<UserId>S-1-5-18</UserId>")
	assert.Contains(t, doc, "<RunLevel>HighestAvailable</RunLevel>")
	assert.Contains(t, doc, "<Enabled>false</Enabled>")
	assert.Contains(t, doc, `<Command>C:\FadCrypt\helper.exe</Command>`)
	assert.Contains(t, doc, "<Arguments>-payload abc</Arguments>")
	assert.Equal(t, `FadCrypt\FadCrypt-disable-tools-0011`, task.Path())
}

func TestTaskSchedulerLifecycle(t *testing.T) {
	log := &commandLog{}
	s := &TaskScheduler{HelperPath: `C:\helper.exe`, run: log.run, lookPath: found, tempDir: t.TempDir()}

	require.NoError(t, s.Execute(t.Context(), Operation{Name: OpDisableTools}))
	require.Len(t, log.calls, 3)
	assert.Equal(t, "/create", log.calls[0][1])
	assert.Equal(t, "/xml", log.calls[0][4])
	assert.Equal(t, "/run", log.calls[1][1])
	assert.Equal(t, "/delete", log.calls[2][1])

	taskPath := log.calls[0][3]
	assert.True(t, strings.HasPrefix(taskPath, `FadCrypt\FadCrypt-disable-tools-`))
	assert.Equal(t, taskPath, log.calls[1][3])
	assert.Equal(t, taskPath, log.calls[2][3])

	_, err := os.Stat(log.calls[0][5])
	assert.True(t, os.IsNotExist(err), "task definition file is removed")
}

func TestTaskSchedulerDeletesAfterFailedRun(t *testing.T) {
	log := &commandLog{fail: map[string]error{"/run": errors.New("exit status 1")}}
	s := &TaskScheduler{HelperPath: `C:\helper.exe`, run: log.run, lookPath: found, tempDir: t.TempDir()}

	err := s.Execute(t.Context(), Operation{Name: OpEnableTools})
	assert.ErrorContains(t, err, "task execution failed")
	assert.NotErrorIs(t, err, ErrFacilityUnavailable)
	require.Len(t, log.calls, 3)
	assert.Equal(t, "/delete", log.calls[2][1])
}

func TestTaskSchedulerRegistrationFailureIsNotUnavailable(t *testing.T) {
	log := &commandLog{fail: map[string]error{"/create": errors.New("access is denied")}}
	s := &TaskScheduler{HelperPath: `C:\helper.exe`, run: log.run, lookPath: found, tempDir: t.TempDir()}

	err := s.Execute(t.Context(), Operation{Name: OpEnableTools})
	assert.ErrorContains(t, err, "task registration failed")
	assert.NotErrorIs(t, err, ErrFacilityUnavailable)
	assert.Len(t, log.calls, 1)
}

func TestMissingFacilities(t *testing.T) {
	for _, s := range []Strategy{
		&TaskScheduler{lookPath: missing},
		&Polkit{lookPath: missing},
		&Sudo{lookPath: missing},
	} {
		err := s.Execute(t.Context(), Operation{Name: OpProtectFiles})
		assert.ErrorIs(t, err, ErrFacilityUnavailable, s.Name())
	}
}

func TestPolkitAndSudoCommandLines(t *testing.T) {
	log := &commandLog{}
	op := Operation{Name: OpProtectFiles, Args: []string{"/home/u/a"}}
	payload, err := op.Encode()
	require.NoError(t, err)

	lookup := func(file string) (string, error) { return "/usr/bin/" + file, nil }

	p := &Polkit{HelperPath: "/usr/libexec/fadcrypt/fadcrypt-helper", run: log.run, lookPath: lookup}
	require.NoError(t, p.Execute(t.Context(), op))
	assert.Equal(t, []string{"/usr/bin/pkexec", "/usr/libexec/fadcrypt/fadcrypt-helper", PayloadFlag, payload}, log.calls[0])

	s := &Sudo{HelperPath: "/usr/libexec/fadcrypt/fadcrypt-helper", run: log.run, lookPath: lookup}
	require.NoError(t, s.Execute(t.Context(), op))
	assert.Equal(t, []string{"/usr/bin/sudo", "--", "/usr/libexec/fadcrypt/fadcrypt-helper", PayloadFlag, payload}, log.calls[1])
}
