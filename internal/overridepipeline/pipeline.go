// Package overridepipeline implements the sole entry point through
// which an override request is safety-checked before it shadows user
// intent. A SYSTEM-scoped override fans out across every member device,
// and the per-device results are aggregated into an Applied/Blocked/
// Modified decision.
package overridepipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hearthctl/hearthctl/internal/audit"
	"github.com/hearthctl/hearthctl/internal/device"
	"github.com/hearthctl/hearthctl/internal/events"
	"github.com/hearthctl/hearthctl/internal/override"
	"github.com/hearthctl/hearthctl/internal/safety"
	"github.com/hearthctl/hearthctl/internal/system"
)

// Request describes an incoming PUT .../override/{category} call.
type Request struct {
	TargetID      string
	Scope         override.Scope
	Category      override.Category
	Value         device.Value
	Reason        string
	TTL           time.Duration // 0 means no expiry
	CreatedBy     string
	CorrelationID string
}

// Kind discriminates a Decision.
type Kind int

const (
	KindApplied Kind = iota
	KindBlocked
	KindModified
)

// Decision is the Applied/Blocked/Modified outcome of validating one
// override request.
type Decision struct {
	kind Kind

	override       override.Override
	originalValue  device.Value
	modifiedValue  device.Value
	reason         string
	blockingRules  []string
	modifyingRules []string
	warnings       []string
}

func (d Decision) Kind() Kind                  { return d.kind }
func (d Decision) Override() override.Override { return d.override }
func (d Decision) OriginalValue() device.Value { return d.originalValue }
func (d Decision) ModifiedValue() device.Value { return d.modifiedValue }
func (d Decision) Reason() string              { return d.reason }
func (d Decision) BlockingRules() []string     { return d.blockingRules }
func (d Decision) ModifyingRules() []string    { return d.modifyingRules }
func (d Decision) Warnings() []string          { return d.warnings }

func applied(o override.Override, warnings []string) Decision {
	return Decision{kind: KindApplied, override: o, warnings: warnings}
}

func blockedDecision(reason string, rules []string) Decision {
	return Decision{kind: KindBlocked, reason: reason, blockingRules: rules}
}

func modifiedDecision(o override.Override, original, modified device.Value, rules []string) Decision {
	return Decision{kind: KindModified, override: o, originalValue: original, modifiedValue: modified, modifyingRules: rules}
}

// SnapshotResolver looks up a device's twin snapshot. Satisfied by
// *twin.Store.
type SnapshotResolver interface {
	FindSnapshot(id device.ID) (device.Snapshot, bool)
}

// SystemFinder looks up a functional system by its own id or by a member
// device's id. Satisfied by *system.Registry.
type SystemFinder interface {
	FindByID(id string) (system.FunctionalSystem, bool)
	FindByDevice(id device.ID) (system.FunctionalSystem, bool)
}

// Publisher is the subset of eventbus.Bus the pipeline needs.
type Publisher interface {
	Publish(event any, orderKey string)
}

// Pipeline is the OverrideValidationPipeline.
type Pipeline struct {
	overrides *override.Store
	systems   SystemFinder
	snapshots SnapshotResolver
	engine    *safety.Engine
	bus       Publisher
	auditLog  *audit.Log

	clock func() time.Time
	newID func() string
}

// New builds a Pipeline over its collaborators.
func New(overrides *override.Store, systems SystemFinder, snapshots SnapshotResolver, engine *safety.Engine, bus Publisher, auditLog *audit.Log) *Pipeline {
	return &Pipeline{
		overrides: overrides,
		systems:   systems,
		snapshots: snapshots,
		engine:    engine,
		bus:       bus,
		auditLog:  auditLog,
		clock:     time.Now,
		newID:     uuid.NewString,
	}
}

// ValidateOnly runs the safety check for a request without persisting or
// publishing anything.
func (p *Pipeline) ValidateOnly(req Request) (Decision, error) {
	return p.validate(req)
}

// Apply validates req and, if accepted or modified, persists it via
// OverrideStore.Save and publishes OverrideApplied.
func (p *Pipeline) Apply(req Request) (Decision, error) {
	if req.CorrelationID == "" {
		req.CorrelationID = p.newID()
	}

	decision, err := p.validate(req)
	if err != nil {
		return Decision{}, err
	}

	switch decision.kind {
	case KindBlocked:
		p.recordAudit(req, audit.OverrideBlocked, device.Value{}, device.Value{}, decision.reason)
		return decision, nil
	case KindApplied, KindModified:
		o := decision.override
		saved, err := p.overrides.Save(o)
		if err != nil {
			return Decision{}, err
		}
		decision.override = saved

		p.recordAudit(req, audit.OverrideApplied, decision.originalValue, saved.Value, req.Reason)
		if p.bus != nil {
			p.bus.Publish(events.OverrideApplied{
				TargetID:      saved.TargetID,
				Category:      string(saved.Category),
				CorrelationID: req.CorrelationID,
				OccurredAt:    p.clock(),
			}, saved.TargetID)
		}
		return decision, nil
	default:
		return decision, nil
	}
}

// CancelOverride removes an override and publishes OverrideCancelled.
func (p *Pipeline) CancelOverride(targetID string, category override.Category, correlationID string) error {
	if err := p.overrides.DeleteByTargetAndCategory(targetID, category); err != nil {
		return err
	}
	if correlationID == "" {
		correlationID = p.newID()
	}
	if p.bus != nil {
		p.bus.Publish(events.OverrideCancelled{
			TargetID:      targetID,
			Category:      string(category),
			CorrelationID: correlationID,
			OccurredAt:    p.clock(),
		}, targetID)
	}
	return nil
}

// ResolveEffective returns the highest-precedence active override for a
// single target id (device or system), with no cross-scope resolution.
func (p *Pipeline) ResolveEffective(targetID string) (override.Override, bool, error) {
	return p.overrides.FindEffectiveByTarget(targetID)
}

// ResolveEffectiveForDevice resolves the override governing a device,
// considering both its own device-scoped overrides and its system's, if
// any.
func (p *Pipeline) ResolveEffectiveForDevice(deviceID, systemID string) (override.Override, bool, error) {
	return p.overrides.ResolveEffectiveForDevice(deviceID, systemID)
}

// ListActiveOverrides returns every active override for a target,
// highest category first.
func (p *Pipeline) ListActiveOverrides(targetID string) ([]override.Override, error) {
	return p.overrides.FindActiveByTarget(targetID)
}

func (p *Pipeline) validate(req Request) (Decision, error) {
	o := override.Override{
		TargetID:  req.TargetID,
		Scope:     req.Scope,
		Category:  req.Category,
		Value:     req.Value,
		Reason:    req.Reason,
		CreatedBy: req.CreatedBy,
	}
	if req.TTL > 0 {
		expires := p.clock().Add(req.TTL)
		o.ExpiresAt = &expires
	}

	switch req.Scope {
	case override.ScopeDevice:
		return p.validateDevice(o)
	case override.ScopeSystem:
		return p.validateSystem(o)
	default:
		return blockedDecision(fmt.Sprintf("unknown override scope %q", req.Scope), nil), nil
	}
}

func (p *Pipeline) validateDevice(o override.Override) (Decision, error) {
	id, err := device.ParseID(o.TargetID)
	if err != nil {
		return blockedDecision(err.Error(), nil), nil
	}

	snap, _ := p.snapshots.FindSnapshot(id)
	snap.ID = id
	snap.Type = o.Value.Type()

	var sys *system.FunctionalSystem
	related := map[device.ID]device.Snapshot{}
	if fs, ok := p.systems.FindByDevice(id); ok {
		fsCopy := fs
		sys = &fsCopy
		for _, memberID := range fs.DeviceIDList() {
			if memberID == id {
				continue
			}
			if s, ok := p.snapshots.FindSnapshot(memberID); ok {
				related[memberID] = s
			}
		}
	}

	ctx := safety.Context{
		DeviceID:            id,
		DeviceType:          o.Value.Type(),
		CurrentSnapshot:     &snap,
		ProposedValue:       o.Value,
		FunctionalSystem:    sys,
		RelatedDeviceStates: related,
	}

	res := p.engine.Evaluate(ctx)
	return decisionFromOutcome(o, o.Value, res.Outcome), nil
}

func (p *Pipeline) validateSystem(o override.Override) (Decision, error) {
	fs, ok := p.systems.FindByID(o.TargetID)
	if !ok {
		return blockedDecision("system not found", nil), nil
	}

	var blockingRules []string
	var modifyingRules []string
	finalValue := o.Value
	anyModified := false

	for _, memberID := range fs.DeviceIDList() {
		snap, _ := p.snapshots.FindSnapshot(memberID)
		snap.ID = memberID
		if snap.Type == "" {
			snap.Type = o.Value.Type()
		}
		if snap.Type != o.Value.Type() {
			continue
		}

		related := map[device.ID]device.Snapshot{}
		for _, siblingID := range fs.DeviceIDList() {
			if siblingID == memberID {
				continue
			}
			if s, ok := p.snapshots.FindSnapshot(siblingID); ok {
				related[siblingID] = s
			}
		}

		ctx := safety.Context{
			DeviceID:            memberID,
			DeviceType:          o.Value.Type(),
			CurrentSnapshot:     &snap,
			ProposedValue:       o.Value,
			FunctionalSystem:    &fs,
			RelatedDeviceStates: related,
		}

		res := p.engine.Evaluate(ctx)
		switch res.Outcome.Kind() {
		case safety.KindRefused:
			ruleID, reason, _ := res.Outcome.Refusal()
			blockingRules = append(blockingRules, ruleID)
			if o.Reason == "" {
				o.Reason = reason
			}
		case safety.KindModified:
			ruleID, _, modifiedValue, _ := res.Outcome.Modification()
			modifyingRules = append(modifyingRules, ruleID)
			anyModified = true
			finalValue = modifiedValue
		}
	}

	if len(blockingRules) > 0 {
		return blockedDecision("one or more member devices refused this override", blockingRules), nil
	}
	original := o.Value
	o.Value = finalValue
	if anyModified {
		return modifiedDecision(o, original, finalValue, modifyingRules), nil
	}
	return applied(o, nil), nil
}

func decisionFromOutcome(o override.Override, proposed device.Value, outcome safety.Outcome) Decision {
	switch outcome.Kind() {
	case safety.KindAccepted:
		return applied(o, nil)
	case safety.KindModified:
		_, original, modified, _ := outcome.Modification()
		o.Value = modified
		return modifiedDecision(o, original, modified, []string{})
	case safety.KindRefused:
		ruleID, reason, _ := outcome.Refusal()
		o.Reason = reason
		return blockedDecision(reason, []string{ruleID})
	default:
		return blockedDecision("unreachable safety outcome", nil)
	}
}

func (p *Pipeline) recordAudit(req Request, decision audit.DecisionType, original, newValue device.Value, reason string) {
	if p.auditLog == nil {
		return
	}
	deviceID, systemID := "", ""
	if req.Scope == override.ScopeSystem {
		systemID = req.TargetID
	} else {
		deviceID = req.TargetID
	}
	p.auditLog.Record(audit.Entry{
		CorrelationID: req.CorrelationID,
		DeviceID:      deviceID,
		SystemID:      systemID,
		DecisionType:  decision,
		Actor:         req.CreatedBy,
		PreviousValue: valueOrNil(original),
		NewValue:      valueOrNil(newValue),
		Reason:        reason,
	})
}

func valueOrNil(v device.Value) any {
	if v.Type() == "" {
		return nil
	}
	return v.String()
}
