package state

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
)

// 车辆状态常量
const (
	StateIdle      = "idle"
	StateDriving   = "driving"
	StateConnected = "connected"
	StateCharging  = "charging"
)

// 事件常量
const (
	EventConnect       = "connect"
	EventDisconnect    = "disconnect"
	EventStartCharging = "start_charging"
	EventStopCharging  = "stop_charging"
	EventStartDriving  = "start_driving"
	EventStopDriving   = "stop_driving"
)

// Machine 单辆车的状态机，约束遥测样本驱动的状态迁移
type Machine struct {
	mu        sync.Mutex
	vehicleID uuid.UUID
	fsm       *fsm.FSM
	onChange  func(vehicleID uuid.UUID, from, to string)
}

// NewMachine 创建状态机
func NewMachine(vehicleID uuid.UUID, initialState string, onChange func(vehicleID uuid.UUID, from, to string)) *Machine {
	if initialState == "" {
		initialState = StateIdle
	}

	m := &Machine{
		vehicleID: vehicleID,
		onChange:  onChange,
	}

	m.fsm = fsm.NewFSM(
		initialState,
		fsm.Events{
			// 插枪：行驶中的最后一个样本可能直接带着充电器出现
			{Name: EventConnect, Src: []string{StateIdle, StateDriving}, Dst: StateConnected},

			// 充电只能在插枪后发生，但采样可能跳过单独的 connected 样本
			{Name: EventStartCharging, Src: []string{StateConnected, StateIdle, StateDriving}, Dst: StateCharging},
			{Name: EventStopCharging, Src: []string{StateCharging}, Dst: StateConnected},

			// 拔枪
			{Name: EventDisconnect, Src: []string{StateConnected, StateCharging}, Dst: StateIdle},

			{Name: EventStartDriving, Src: []string{StateIdle, StateConnected, StateCharging}, Dst: StateDriving},
			{Name: EventStopDriving, Src: []string{StateDriving}, Dst: StateIdle},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				if m.onChange != nil && e.Src != e.Dst {
					m.onChange(m.vehicleID, e.Src, e.Dst)
				}
			},
		},
	)

	return m
}

// Current 当前状态
func (m *Machine) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fsm.Current()
}

// Advance 驱动状态机到目标状态，返回实际发生的迁移事件
func (m *Machine) Advance(target string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var fired []string
	for m.fsm.Current() != target {
		event, ok := nextEvent(m.fsm.Current(), target)
		if !ok {
			// 无定义路径时直接落到目标状态
			from := m.fsm.Current()
			m.fsm.SetState(target)
			if m.onChange != nil {
				m.onChange(m.vehicleID, from, target)
			}
			break
		}
		if err := m.fsm.Event(context.Background(), event); err != nil {
			break
		}
		fired = append(fired, event)
	}
	return fired
}

// nextEvent 从 current 向 target 靠近一步的事件
func nextEvent(current, target string) (string, bool) {
	switch current {
	case StateIdle:
		switch target {
		case StateDriving:
			return EventStartDriving, true
		case StateConnected:
			return EventConnect, true
		case StateCharging:
			return EventConnect, true
		}
	case StateDriving:
		switch target {
		case StateIdle:
			return EventStopDriving, true
		case StateConnected, StateCharging:
			return EventStopDriving, true
		}
	case StateConnected:
		switch target {
		case StateCharging:
			return EventStartCharging, true
		case StateIdle, StateDriving:
			return EventDisconnect, true
		}
	case StateCharging:
		switch target {
		case StateConnected:
			return EventStopCharging, true
		case StateIdle, StateDriving:
			return EventStopCharging, true
		}
	}
	return "", false
}

// Derive 从样本字段推导目标状态
func Derive(driving, connected, charging bool) string {
	switch {
	case driving:
		return StateDriving
	case charging:
		return StateCharging
	case connected:
		return StateConnected
	}
	return StateIdle
}

// Manager 状态机管理器，按车辆维护实例
type Manager struct {
	mu       sync.RWMutex
	machines map[uuid.UUID]*Machine
	onChange func(vehicleID uuid.UUID, from, to string)
}

// NewManager 创建管理器
func NewManager(onChange func(vehicleID uuid.UUID, from, to string)) *Manager {
	return &Manager{
		machines: make(map[uuid.UUID]*Machine),
		onChange: onChange,
	}
}

// GetOrCreate 获取或创建状态机
func (m *Manager) GetOrCreate(vehicleID uuid.UUID, initialState string) *Machine {
	m.mu.Lock()
	defer m.mu.Unlock()

	if machine, ok := m.machines[vehicleID]; ok {
		return machine
	}

	machine := NewMachine(vehicleID, initialState, m.onChange)
	m.machines[vehicleID] = machine
	return machine
}

// Get 获取状态机
func (m *Manager) Get(vehicleID uuid.UUID) (*Machine, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	machine, ok := m.machines[vehicleID]
	return machine, ok
}
