package elevation

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/fadcrypt/fadcrypt/internal/constants"
	"golang.org/x/text/encoding/unicode"
)

const (
	taskNamespace = "http://schemas.microsoft.com/windows/2004/02/mit/task"
	taskFolder    = constants.ElevatedTaskPrefix
	// LocalSystem, run at the highest level the principal has.
	systemSID = "S-1-5-18"
)

type taskXML struct {
	XMLName          xml.Name         `xml:"Task"`
	Version          string           `xml:"version,attr"`
	Xmlns            string           `xml:"xmlns,attr"`
	RegistrationInfo taskRegistration `xml:"RegistrationInfo"`
	Triggers         taskTriggers     `xml:"Triggers"`
	Principals       taskPrincipals   `xml:"Principals"`
	Settings         taskSettings     `xml:"Settings"`
	Actions          taskActions      `xml:"Actions"`
}

type taskRegistration struct {
	Description string `xml:"Description"`
}

type taskTriggers struct {
	TimeTrigger taskTimeTrigger `xml:"TimeTrigger"`
}

type taskTimeTrigger struct {
	StartBoundary string `xml:"StartBoundary"`
	Enabled       bool   `xml:"Enabled"`
}

type taskPrincipals struct {
	Principal taskPrincipal `xml:"Principal"`
}

type taskPrincipal struct {
	ID       string `xml:"id,attr"`
	UserID   string `xml:"UserId"`
	RunLevel string `xml:"RunLevel"`
}

type taskSettings struct {
	MultipleInstancesPolicy    string `xml:"MultipleInstancesPolicy"`
	DisallowStartIfOnBatteries bool   `xml:"DisallowStartIfOnBatteries"`
	StopIfGoingOnBatteries     bool   `xml:"StopIfGoingOnBatteries"`
	AllowHardTerminate         bool   `xml:"AllowHardTerminate"`
	StartWhenAvailable         bool   `xml:"StartWhenAvailable"`
	AllowStartOnDemand         bool   `xml:"AllowStartOnDemand"`
	Enabled                    bool   `xml:"Enabled"`
	Hidden                     bool   `xml:"Hidden"`
	ExecutionTimeLimit         string `xml:"ExecutionTimeLimit"`
	Priority                   int    `xml:"Priority"`
}

type taskActions struct {
	Context string   `xml:"Context,attr"`
	Exec    taskExec `xml:"Exec"`
}

type taskExec struct {
	Command   string `xml:"Command"`
	Arguments string `xml:"Arguments"`
}

// ElevatedTask is a single-use scheduled task that runs the helper once as
// LocalSystem.
type ElevatedTask struct {
	Name      string
	Command   string
	Arguments []string
}

func newTaskName(op string) string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("%s-%s-%s", constants.ElevatedTaskPrefix, op, hex.EncodeToString(b[:]))
}

// Path is the task's name inside the scheduler's folder tree.
func (t ElevatedTask) Path() string {
	return taskFolder + `\` + t.Name
}

func (t ElevatedTask) definition() taskXML {
	return taskXML{
		Version: "1.2",
		Xmlns:   taskNamespace,
		RegistrationInfo: taskRegistration{
			Description: "FadCrypt elevated operation",
		},
		Triggers: taskTriggers{
			TimeTrigger: taskTimeTrigger{StartBoundary: "2024-01-01T00:00:00", Enabled: false},
		},
		Principals: taskPrincipals{
			Principal: taskPrincipal{ID: "Author", UserID: systemSID, RunLevel: "HighestAvailable"},
		},
		Settings: taskSettings{
			MultipleInstancesPolicy: "IgnoreNew",
			AllowHardTerminate:      true,
			AllowStartOnDemand:      true,
			Enabled:                 true,
			ExecutionTimeLimit:      "PT1H",
			Priority:                7,
		},
		Actions: taskActions{
			Context: "Author",
			Exec: taskExec{
				Command:   t.Command,
				Arguments: strings.Join(t.Arguments, " "),
			},
		},
	}
}

// XML renders the task definition the way schtasks /xml expects it:
// UTF-16 little endian with a byte order mark.
func (t ElevatedTask) XML() ([]byte, error) {
	body, err := xml.MarshalIndent(t.definition(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render task: %w", err)
	}

	doc := append([]byte(`<?xml version="1.0" encoding="UTF-16"?>`+"\n"), body...)
	enc := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder()
	out, err := enc.Bytes(doc)
	if err != nil {
		return nil, fmt.Errorf("encode task: %w", err)
	}
	return out, nil
}
