package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"medkb/pkg/domain"
)

// Wire records use pointer fields so a missing key is distinguishable from a
// zero value. They exist only at the parse boundary. The required tags check
// key presence only; empty ids and names are reported by the schema check.
type wireMetadata struct {
	Version     string  `json:"version"`
	LastUpdated *string `json:"last_updated" validate:"required"`
}

type wireDisease struct {
	ID          *string  `json:"id" validate:"required"`
	Name        *string  `json:"name" validate:"required"`
	Description *string  `json:"description" validate:"required"`
	Symptoms    []string `json:"symptoms" validate:"required"`
	Diagnostics []string `json:"diagnostics" validate:"required"`
	Treatment   []string `json:"treatment" validate:"required"`
	References  *string  `json:"references" validate:"required"`
}

type wireRule struct {
	ID            *string  `json:"id" validate:"required"`
	IfSymptoms    []string `json:"if_symptoms" validate:"required"`
	ThenDiseaseID *string  `json:"then_disease_id" validate:"required"`
	Confidence    *float64 `json:"confidence" validate:"required"`
}

// Without these a disease cannot be addressed, so it stays out of the model.
var diseaseIdentityFields = []string{"id", "name"}

var recordValidate *validator.Validate

func init() {
	recordValidate = validator.New()
	recordValidate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

const schemaCheck = "schema"

func schemaViolation(entity EntityType, id, format string, args ...any) Violation {
	return Violation{
		Check:    schemaCheck,
		Code:     domain.CodeSchemaViolation,
		Severity: SeverityError,
		Message:  fmt.Sprintf(format, args...),
		Entity:   entity,
		EntityID: id,
	}
}

// UnparsedRecord is a disease or rule that failed the parse boundary. Its
// original bytes are written back unchanged until an edit replaces or removes
// the record. Typed records were still decoded into the model because only
// descriptive keys were missing; the others are left out of it.
type UnparsedRecord struct {
	Entity EntityType `json:"entity"`
	// ID is the record's own id, empty when it has none usable.
	ID string `json:"id,omitempty"`
	// Label is ID, or "#<index>" within the section when ID is empty.
	Label string          `json:"label"`
	Raw   json.RawMessage `json:"raw"`
	// After is the id of the preceding decoded record, empty at the section head.
	After      string      `json:"after,omitempty"`
	Typed      bool        `json:"typed"`
	Violations []Violation `json:"violations"`
}

func (u UnparsedRecord) clone() UnparsedRecord {
	u.Raw = append(json.RawMessage(nil), u.Raw...)
	u.Violations = append([]Violation(nil), u.Violations...)
	return u
}

// parseState is what the parse boundary reports next to the decoded model.
type parseState struct {
	sections []Violation
	// blocked is set when a present section failed to decode. Rewriting the
	// document would drop it, so mutations are refused until it is re-imported.
	blocked bool
	records []UnparsedRecord
}

func (p parseState) result() Result {
	var res Result
	for _, v := range p.sections {
		res.Add(v)
	}
	for _, r := range p.records {
		for _, v := range r.Violations {
			res.Add(v)
		}
	}
	return res
}

func (p *parseState) block(v Violation) {
	p.sections = append(p.sections, v)
	p.blocked = true
}

// Decode parses a serialized corpus. A payload that is not a JSON object fails
// with a MalformedError. Everything else decodes: records with the wrong shape
// are reported as schema violations and left out of the returned model.
func Decode(payload []byte, source string) (KnowledgeBase, Result, error) {
	kb, state, err := decodeDocument(payload, source)
	if err != nil {
		return KnowledgeBase{}, Result{}, err
	}
	return kb, state.result(), nil
}

func decodeDocument(payload []byte, source string) (KnowledgeBase, parseState, error) {
	var state parseState
	var top map[string]json.RawMessage
	if err := json.Unmarshal(payload, &top); err != nil {
		return KnowledgeBase{}, state, MalformedError{Source: source, Err: err}
	}
	if top == nil {
		return KnowledgeBase{}, state, MalformedError{Source: source, Err: errors.New("top level is not an object")}
	}
	kb := KnowledgeBase{Diseases: []Disease{}, Rules: []Rule{}}
	for _, section := range []string{"metadata", "diseases", "rules"} {
		if _, ok := top[section]; !ok {
			state.sections = append(state.sections, schemaViolation(EntityKnowledgeBase, section, "required section %q is missing", section))
		}
	}
	if raw, ok := top["metadata"]; ok {
		var md wireMetadata
		if err := json.Unmarshal(raw, &md); err != nil {
			state.block(schemaViolation(EntityKnowledgeBase, "metadata", "metadata: %s", describeDecodeError(err)))
		} else {
			kb.Metadata = Metadata{Version: md.Version, LastUpdated: deref(md.LastUpdated)}
			vs, _ := missingFields(&md, EntityKnowledgeBase, "metadata", "metadata")
			state.sections = append(state.sections, vs...)
		}
	}
	if raw, ok := top["facts"]; ok && !isNull(raw) {
		var facts Facts
		if err := json.Unmarshal(raw, &facts); err != nil {
			state.block(schemaViolation(EntityKnowledgeBase, "facts", "facts: %s", describeDecodeError(err)))
		} else {
			kb.Facts = &facts
		}
	}
	after := ""
	for i, raw := range decodeSection(top, "diseases", &state) {
		d, unparsed, ok := decodeDisease(raw, i)
		if unparsed != nil {
			unparsed.After = after
			state.records = append(state.records, *unparsed)
		}
		if ok {
			kb.Diseases = append(kb.Diseases, d)
			after = d.ID
		}
	}
	after = ""
	for i, raw := range decodeSection(top, "rules", &state) {
		r, unparsed, ok := decodeRule(raw, i)
		if unparsed != nil {
			unparsed.After = after
			state.records = append(state.records, *unparsed)
		}
		if ok {
			kb.Rules = append(kb.Rules, r)
			after = r.ID
		}
	}
	return kb, state, nil
}

func decodeSection(top map[string]json.RawMessage, name string, state *parseState) []json.RawMessage {
	raw, ok := top[name]
	if !ok {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		state.block(schemaViolation(EntityKnowledgeBase, name, "%s: section must be a list", name))
		return nil
	}
	return items
}

func newUnparsed(entity EntityType, raw json.RawMessage, index int) *UnparsedRecord {
	id := recordID(raw)
	label := id
	if label == "" {
		label = fmt.Sprintf("#%d", index)
	}
	return &UnparsedRecord{Entity: entity, ID: id, Label: label, Raw: append(json.RawMessage(nil), raw...)}
}

func decodeDisease(raw json.RawMessage, index int) (Disease, *UnparsedRecord, bool) {
	unparsed := newUnparsed(EntityDisease, raw, index)
	label := unparsed.Label
	var w wireDisease
	if err := json.Unmarshal(raw, &w); err != nil {
		unparsed.Violations = append(unparsed.Violations, schemaViolation(EntityDisease, label, "disease %s: %s", label, describeDecodeError(err)))
		return Disease{}, unparsed, false
	}
	vs, missing := missingFields(&w, EntityDisease, label, "disease "+label)
	if len(vs) == 0 {
		return wireToDisease(w), nil, true
	}
	unparsed.Violations = vs
	for _, field := range diseaseIdentityFields {
		if containsString(missing, field) {
			return Disease{}, unparsed, false
		}
	}
	unparsed.Typed = true
	return wireToDisease(w), unparsed, true
}

func wireToDisease(w wireDisease) Disease {
	return Disease{
		ID:          deref(w.ID),
		Name:        deref(w.Name),
		Description: deref(w.Description),
		Symptoms:    nonNil(w.Symptoms),
		Diagnostics: nonNil(w.Diagnostics),
		Treatment:   nonNil(w.Treatment),
		References:  deref(w.References),
	}
}

func decodeRule(raw json.RawMessage, index int) (Rule, *UnparsedRecord, bool) {
	unparsed := newUnparsed(EntityRule, raw, index)
	label := unparsed.Label
	var w wireRule
	if err := json.Unmarshal(raw, &w); err != nil {
		unparsed.Violations = append(unparsed.Violations, schemaViolation(EntityRule, label, "rule %s: %s", label, describeDecodeError(err)))
		return Rule{}, unparsed, false
	}
	// A zero confidence is present but out of range; the schema check reports it.
	if vs, _ := missingFields(&w, EntityRule, label, "rule "+label); len(vs) > 0 {
		unparsed.Violations = vs
		return Rule{}, unparsed, false
	}
	return Rule{
		ID:            *w.ID,
		IfSymptoms:    w.IfSymptoms,
		ThenDiseaseID: *w.ThenDiseaseID,
		Confidence:    *w.Confidence,
	}, nil, true
}

// missingFields reports every required key absent from record and returns the
// key names.
func missingFields(record any, entity EntityType, id, prefix string) ([]Violation, []string) {
	err := recordValidate.Struct(record)
	if err == nil {
		return nil, nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []Violation{schemaViolation(entity, id, "%s: %v", prefix, err)}, nil
	}
	vs := make([]Violation, 0, len(fieldErrs))
	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		vs = append(vs, schemaViolation(entity, id, "%s: field %q is %s", prefix, fe.Field(), fe.Tag()))
		fields = append(fields, fe.Field())
	}
	return vs, fields
}

// recordID returns the record's id when it is a non-blank string.
func recordID(raw json.RawMessage) string {
	var probe struct {
		ID any `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err == nil {
		if id, ok := probe.ID.(string); ok && strings.TrimSpace(id) != "" {
			return id
		}
	}
	return ""
}

// lenientFields decodes whatever keys of raw fit their destination and skips
// the rest. It seeds edits of records that failed the parse boundary.
func lenientFields(raw json.RawMessage, dst map[string]any) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return
	}
	for key, target := range dst {
		if value, ok := fields[key]; ok {
			_ = json.Unmarshal(value, target)
		}
	}
}

func partialDisease(raw json.RawMessage) Disease {
	var d Disease
	lenientFields(raw, map[string]any{
		"id":          &d.ID,
		"name":        &d.Name,
		"description": &d.Description,
		"symptoms":    &d.Symptoms,
		"diagnostics": &d.Diagnostics,
		"treatment":   &d.Treatment,
		"references":  &d.References,
	})
	return d
}

func partialRule(raw json.RawMessage) Rule {
	var r Rule
	lenientFields(raw, map[string]any{
		"id":              &r.ID,
		"if_symptoms":     &r.IfSymptoms,
		"then_disease_id": &r.ThenDiseaseID,
		"confidence":      &r.Confidence,
	})
	return r
}

func describeDecodeError(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		if typeErr.Field != "" {
			return fmt.Sprintf("field %q must be %s, got %s", typeErr.Field, typeErr.Type, typeErr.Value)
		}
		return fmt.Sprintf("must be %s, got %s", typeErr.Type, typeErr.Value)
	}
	return err.Error()
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

type wireDocument struct {
	Metadata Metadata          `json:"metadata"`
	Facts    *Facts            `json:"facts,omitempty"`
	Diseases []json.RawMessage `json:"diseases"`
	Rules    []json.RawMessage `json:"rules"`
}

// Encode serializes the corpus with two-space indentation. Nil lists are written
// as empty arrays so the document keeps every section.
func Encode(kb KnowledgeBase) ([]byte, error) {
	return encodeDocument(kb, nil)
}

// encodeDocument is Encode with the unparsed records written back in place:
// typed ones replace their decoded form, the others follow the record they
// were decoded after.
func encodeDocument(kb KnowledgeBase, unparsed []UnparsedRecord) ([]byte, error) {
	out := kb.Clone()
	if out.Facts != nil {
		out.Facts.Symptoms = nonNil(out.Facts.Symptoms)
	}
	for i := range out.Diseases {
		d := &out.Diseases[i]
		d.Symptoms = nonNil(d.Symptoms)
		d.Diagnostics = nonNil(d.Diagnostics)
		d.Treatment = nonNil(d.Treatment)
	}
	for i := range out.Rules {
		out.Rules[i].IfSymptoms = nonNil(out.Rules[i].IfSymptoms)
	}
	diseases, err := encodeSection(EntityDisease, out.Diseases, func(d Disease) string { return d.ID }, unparsed)
	if err != nil {
		return nil, err
	}
	rules, err := encodeSection(EntityRule, out.Rules, func(r Rule) string { return r.ID }, unparsed)
	if err != nil {
		return nil, err
	}
	doc := wireDocument{Metadata: out.Metadata, Facts: out.Facts, Diseases: diseases, Rules: rules}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode knowledge base: %w", err)
	}
	return append(b, '\n'), nil
}

func encodeSection[T any](entity EntityType, records []T, id func(T) string, unparsed []UnparsedRecord) ([]json.RawMessage, error) {
	typed := make(map[string][]json.RawMessage)
	var pending []UnparsedRecord
	for _, u := range unparsed {
		switch {
		case u.Entity != entity:
		case u.Typed:
			typed[u.ID] = append(typed[u.ID], u.Raw)
		default:
			pending = append(pending, u)
		}
	}
	out := make([]json.RawMessage, 0, len(records)+len(pending))
	emitAfter := func(anchor string) {
		kept := pending[:0]
		for _, u := range pending {
			if u.After == anchor {
				out = append(out, u.Raw)
				continue
			}
			kept = append(kept, u)
		}
		pending = kept
	}
	emitAfter("")
	for _, r := range records {
		rid := id(r)
		if raws := typed[rid]; len(raws) > 0 {
			out = append(out, raws[0])
			typed[rid] = raws[1:]
		} else {
			b, err := json.Marshal(r)
			if err != nil {
				return nil, fmt.Errorf("encode %s %s: %w", entity, rid, err)
			}
			out = append(out, b)
		}
		emitAfter(rid)
	}
	// Records whose anchor was deleted go last.
	for _, u := range pending {
		out = append(out, u.Raw)
	}
	return out, nil
}
