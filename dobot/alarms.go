package dobot

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// CollisionID is reported by the controller when collision detection tripped.
const CollisionID = -2

//go:embed alarm_controller.json
var controllerAlarmJSON []byte

//go:embed alarm_servo.json
var servoAlarmJSON []byte

type AlarmSource string

const (
	SourceController AlarmSource = "controller"
	SourceServo      AlarmSource = "servo"
	SourceCollision  AlarmSource = "collision"
	SourceUnknown    AlarmSource = "unknown"
)

type alarmEntry struct {
	ID          int  `json:"id"`
	Level       int  `json:"level"`
	Recoverable bool `json:"recoverable"`
	En          struct {
		Description string `json:"description"`
		Solution    string `json:"solution"`
	} `json:"en"`
}

// Alarm is a described controller alarm.
type Alarm struct {
	ID          int         `json:"id"`
	Source      AlarmSource `json:"source"`
	Description string      `json:"description"`
	Solution    string      `json:"solution,omitempty"`
	Recoverable bool        `json:"recoverable"`
}

func (a Alarm) String() string {
	switch a.Source {
	case SourceCollision:
		return fmt.Sprintf("robot in collision, id: %d", a.ID)
	case SourceUnknown:
		return fmt.Sprintf("unknown alarm, id: %d", a.ID)
	}
	return fmt.Sprintf("%s alarm, id: %d, description: %s", a.Source, a.ID, a.Description)
}

// AlarmTable looks up alarm ids in the controller and servo tables.
type AlarmTable struct {
	controller map[int]alarmEntry
	servo      map[int]alarmEntry
}

var (
	defaultAlarms     *AlarmTable
	defaultAlarmsErr  error
	defaultAlarmsOnce sync.Once
)

// DefaultAlarmTable returns the embedded tables.
func DefaultAlarmTable() (*AlarmTable, error) {
	defaultAlarmsOnce.Do(func() {
		defaultAlarms, defaultAlarmsErr = NewAlarmTable(controllerAlarmJSON, servoAlarmJSON)
	})
	return defaultAlarms, defaultAlarmsErr
}

func NewAlarmTable(controllerJSON, servoJSON []byte) (*AlarmTable, error) {
	controller, err := loadAlarms(controllerJSON)
	if err != nil {
		return nil, errors.Wrap(err, "controller alarm table")
	}
	servo, err := loadAlarms(servoJSON)
	if err != nil {
		return nil, errors.Wrap(err, "servo alarm table")
	}
	return &AlarmTable{controller: controller, servo: servo}, nil
}

func loadAlarms(data []byte) (map[int]alarmEntry, error) {
	var entries []alarmEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	out := make(map[int]alarmEntry, len(entries))
	for _, e := range entries {
		out[e.ID] = e
	}
	return out, nil
}

// Describe resolves id, checking collision first, then controller, then servo.
func (t *AlarmTable) Describe(id int) Alarm {
	if id == CollisionID {
		return Alarm{ID: id, Source: SourceCollision, Description: "collision detected"}
	}
	if e, ok := t.controller[id]; ok {
		return Alarm{ID: id, Source: SourceController, Description: e.En.Description, Solution: e.En.Solution, Recoverable: e.Recoverable}
	}
	if e, ok := t.servo[id]; ok {
		return Alarm{ID: id, Source: SourceServo, Description: e.En.Description, Solution: e.En.Solution, Recoverable: e.Recoverable}
	}
	return Alarm{ID: id, Source: SourceUnknown}
}
