package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"medkb/pkg/domain"
)

// DeletePolicy decides what DeleteDisease does with rules that still conclude
// the disease.
type DeletePolicy int

const (
	// RejectIfReferenced refuses the deletion and names the referencing rules.
	RejectIfReferenced DeletePolicy = iota
	// CascadeRules deletes the referencing rules together with the disease.
	CascadeRules
)

func (p DeletePolicy) String() string {
	if p == CascadeRules {
		return "cascade_rules"
	}
	return "reject_if_referenced"
}

// DefaultRulePrefix prefixes auto-assigned rule ids.
const DefaultRulePrefix = "R"

// Transaction is a working copy of the knowledge base. Operations apply their
// referential cascades immediately; validation happens once when the manager
// commits.
type Transaction struct {
	kb         KnowledgeBase
	unparsed   []UnparsedRecord
	now        time.Time
	rulePrefix string
	changes    []Change
}

func newTransaction(kb KnowledgeBase, unparsed []UnparsedRecord, now time.Time, rulePrefix string) *Transaction {
	if rulePrefix == "" {
		rulePrefix = DefaultRulePrefix
	}
	return &Transaction{kb: kb, unparsed: unparsed, now: now, rulePrefix: rulePrefix}
}

// recordChange logs change. A disease or rule change rewrites the record, so
// any unparsed original for it is dropped.
func (tx *Transaction) recordChange(change Change) {
	change.At = tx.now
	tx.changes = append(tx.changes, change)
	if change.Entity == EntityDisease || change.Entity == EntityRule {
		tx.resolve(change.Entity, change.EntityID)
	}
}

func (tx *Transaction) resolve(entity EntityType, label string) {
	kept := tx.unparsed[:0:0]
	for _, u := range tx.unparsed {
		if u.Entity == entity && u.Label == label {
			continue
		}
		kept = append(kept, u)
	}
	tx.unparsed = kept
}

// untyped returns the unparsed record labelled label that is not in the model.
func (tx *Transaction) untyped(entity EntityType, label string) (UnparsedRecord, bool) {
	for _, u := range tx.unparsed {
		if u.Entity == entity && u.Label == label && !u.Typed {
			return u.clone(), true
		}
	}
	return UnparsedRecord{}, false
}

// Unparsed returns the unparsed records the transaction still carries.
func (tx *Transaction) Unparsed() []UnparsedRecord {
	out := make([]UnparsedRecord, 0, len(tx.unparsed))
	for _, u := range tx.unparsed {
		out = append(out, u.clone())
	}
	return out
}

func (tx *Transaction) idTaken(entity EntityType, id string) bool {
	for _, u := range tx.unparsed {
		if u.Entity == entity && u.ID == id {
			return true
		}
	}
	if entity == EntityRule {
		return tx.ruleIndex(id) >= 0
	}
	return tx.diseaseIndex(id) >= 0
}

// insertAfter places item right after the record with id anchor, at the head
// when anchor is empty and at the end when anchor is gone.
func insertAfter[T any](list []T, anchor string, id func(T) string, item T) []T {
	pos := len(list)
	if anchor == "" {
		pos = 0
	} else {
		for i := range list {
			if id(list[i]) == anchor {
				pos = i + 1
				break
			}
		}
	}
	list = append(list, item)
	copy(list[pos+1:], list[pos:])
	list[pos] = item
	return list
}

// Changes returns the changes recorded so far.
func (tx *Transaction) Changes() []Change {
	return append([]Change(nil), tx.changes...)
}

// View returns a copy of the working knowledge base.
func (tx *Transaction) View() KnowledgeBase { return tx.kb.Clone() }

func rejected(format string, args ...any) error {
	return MutationRejectedError{Reason: fmt.Sprintf(format, args...)}
}

// facts materializes the registry on first write when the corpus had none.
func (tx *Transaction) facts() *Facts {
	if tx.kb.Facts == nil {
		tx.kb.Facts = &Facts{Symptoms: derivedSymptoms(tx.kb)}
		tx.recordChange(Change{Entity: EntityKnowledgeBase, Action: ActionCreate, EntityID: "facts", After: tx.kb.Facts.Symptoms, Cascade: true})
	}
	return tx.kb.Facts
}

func (tx *Transaction) registryIndex(key string) int {
	for i, sym := range tx.facts().Symptoms {
		if domain.Normalize(sym) == key {
			return i
		}
	}
	return -1
}

// AddSymptom registers a symptom and returns its canonical key.
func (tx *Transaction) AddSymptom(name string) (string, error) {
	key := domain.Normalize(name)
	if key == "" {
		return "", rejected("symptom name is empty")
	}
	if tx.registryIndex(key) >= 0 {
		return "", rejected("symptom %q already exists", key)
	}
	f := tx.facts()
	f.Symptoms = append(f.Symptoms, key)
	tx.recordChange(Change{Entity: EntitySymptom, Action: ActionCreate, EntityID: key, After: key})
	return key, nil
}

// EnsureSymptoms registers every listed symptom that is not registered yet.
func (tx *Transaction) EnsureSymptoms(names ...string) {
	for _, key := range domain.CanonicalSet(names) {
		if tx.registryIndex(key) < 0 {
			_, _ = tx.AddSymptom(key)
		}
	}
}

// RenameSymptom renames a registered symptom and rewrites every disease symptom
// list and rule IF-set that references it.
func (tx *Transaction) RenameSymptom(oldName, newName string) (string, error) {
	oldKey, newKey := domain.Normalize(oldName), domain.Normalize(newName)
	idx := tx.registryIndex(oldKey)
	if idx < 0 {
		return "", NotFoundError{Entity: EntitySymptom, ID: oldKey}
	}
	if newKey == "" {
		return "", rejected("new symptom name is empty")
	}
	if newKey == oldKey {
		return oldKey, nil
	}
	if tx.registryIndex(newKey) >= 0 {
		return "", rejected("symptom %q already exists", newKey)
	}
	tx.kb.Facts.Symptoms[idx] = newKey
	tx.recordChange(Change{Entity: EntitySymptom, Action: ActionRename, EntityID: oldKey, Before: oldKey, After: newKey})
	for i := range tx.kb.Diseases {
		d := &tx.kb.Diseases[i]
		if updated, ok := replaceSymptom(d.Symptoms, oldKey, newKey); ok {
			before := d.Clone()
			d.Symptoms = updated
			tx.recordChange(Change{Entity: EntityDisease, Action: ActionUpdate, EntityID: d.ID, Before: before, After: d.Clone(), Cascade: true})
		}
	}
	for i := range tx.kb.Rules {
		r := &tx.kb.Rules[i]
		if updated, ok := replaceSymptom(r.IfSymptoms, oldKey, newKey); ok {
			before := r.Clone()
			r.IfSymptoms = updated
			tx.recordChange(Change{Entity: EntityRule, Action: ActionUpdate, EntityID: r.ID, Before: before, After: r.Clone(), Cascade: true})
		}
	}
	return newKey, nil
}

// DeleteSymptom unregisters a symptom and strips it from every disease and rule.
// Rules left with an empty IF-set are deleted.
func (tx *Transaction) DeleteSymptom(name string) error {
	key := domain.Normalize(name)
	idx := tx.registryIndex(key)
	if idx < 0 {
		return NotFoundError{Entity: EntitySymptom, ID: key}
	}
	f := tx.kb.Facts
	f.Symptoms = append(f.Symptoms[:idx:idx], f.Symptoms[idx+1:]...)
	tx.recordChange(Change{Entity: EntitySymptom, Action: ActionDelete, EntityID: key, Before: key})
	for i := range tx.kb.Diseases {
		d := &tx.kb.Diseases[i]
		if updated, ok := removeSymptom(d.Symptoms, key); ok {
			before := d.Clone()
			d.Symptoms = updated
			tx.recordChange(Change{Entity: EntityDisease, Action: ActionUpdate, EntityID: d.ID, Before: before, After: d.Clone(), Cascade: true})
		}
	}
	kept := tx.kb.Rules[:0:0]
	for _, r := range tx.kb.Rules {
		updated, ok := removeSymptom(r.IfSymptoms, key)
		if !ok {
			kept = append(kept, r)
			continue
		}
		before := r.Clone()
		if len(domain.CanonicalSet(updated)) == 0 {
			tx.recordChange(Change{Entity: EntityRule, Action: ActionDelete, EntityID: r.ID, Before: before, Cascade: true})
			continue
		}
		r.IfSymptoms = updated
		kept = append(kept, r)
		tx.recordChange(Change{Entity: EntityRule, Action: ActionUpdate, EntityID: r.ID, Before: before, After: r.Clone(), Cascade: true})
	}
	tx.kb.Rules = kept
	return nil
}

func replaceSymptom(list []string, oldKey, newKey string) ([]string, bool) {
	found := false
	out := make([]string, 0, len(list))
	seen := make(map[string]struct{}, len(list))
	for _, sym := range list {
		key := domain.Normalize(sym)
		if key == oldKey {
			found = true
			sym, key = newKey, newKey
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, sym)
	}
	return out, found
}

func removeSymptom(list []string, key string) ([]string, bool) {
	found := false
	out := make([]string, 0, len(list))
	for _, sym := range list {
		if domain.Normalize(sym) == key {
			found = true
			continue
		}
		out = append(out, sym)
	}
	return out, found
}

func (tx *Transaction) diseaseIndex(id string) int {
	for i, d := range tx.kb.Diseases {
		if d.ID == id {
			return i
		}
	}
	return -1
}

func (tx *Transaction) ruleIndex(id string) int {
	for i, r := range tx.kb.Rules {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func cleanDisease(d Disease) Disease {
	d.Name = strings.TrimSpace(d.Name)
	d.Description = strings.TrimSpace(d.Description)
	d.References = strings.TrimSpace(d.References)
	d.Symptoms = domain.CanonicalSet(d.Symptoms)
	d.Diagnostics = cleanList(d.Diagnostics)
	d.Treatment = cleanList(d.Treatment)
	return d
}

// AddDisease appends a disease. An empty id is derived from the name.
func (tx *Transaction) AddDisease(d Disease) (Disease, error) {
	d = cleanDisease(d)
	d.ID = strings.TrimSpace(d.ID)
	taken := func(id string) bool { return tx.idTaken(EntityDisease, id) }
	if d.ID == "" {
		d.ID = domain.Slug(d.Name, taken)
	} else if taken(d.ID) {
		return Disease{}, rejected("disease %q already exists", d.ID)
	}
	tx.kb.Diseases = append(tx.kb.Diseases, d.Clone())
	tx.recordChange(Change{Entity: EntityDisease, Action: ActionCreate, EntityID: d.ID, After: d.Clone()})
	return d.Clone(), nil
}

// EditDisease applies mutator to the disease with id. The id cannot change.
// A disease that failed the parse boundary is edited from whatever of it
// decodes and takes its original place once saved.
func (tx *Transaction) EditDisease(id string, mutator func(*Disease) error) (Disease, error) {
	idx := tx.diseaseIndex(id)
	var before any
	var current Disease
	var unparsed UnparsedRecord
	if idx >= 0 {
		d := tx.kb.Diseases[idx].Clone()
		before, current = d, d.Clone()
	} else if u, ok := tx.untyped(EntityDisease, id); ok {
		unparsed = u
		before, current = u.Raw, partialDisease(u.Raw)
	} else {
		return Disease{}, NotFoundError{Entity: EntityDisease, ID: id}
	}
	if err := mutator(&current); err != nil {
		return Disease{}, err
	}
	current = cleanDisease(current)
	if idx >= 0 {
		current.ID = id
		tx.kb.Diseases[idx] = current.Clone()
	} else {
		current.ID = unparsed.ID
		if current.ID == "" {
			current.ID = domain.Slug(current.Name, func(id string) bool { return tx.idTaken(EntityDisease, id) })
		}
		tx.resolve(EntityDisease, id)
		tx.kb.Diseases = insertAfter(tx.kb.Diseases, unparsed.After, func(d Disease) string { return d.ID }, current.Clone())
	}
	tx.recordChange(Change{Entity: EntityDisease, Action: ActionUpdate, EntityID: current.ID, Before: before, After: current.Clone()})
	return current, nil
}

// DeleteDisease removes the disease with id according to policy.
func (tx *Transaction) DeleteDisease(id string, policy DeletePolicy) error {
	idx := tx.diseaseIndex(id)
	unparsed, isUnparsed := tx.untyped(EntityDisease, id)
	if idx < 0 && !isUnparsed {
		return NotFoundError{Entity: EntityDisease, ID: id}
	}
	var referencing []string
	for _, r := range tx.kb.Rules {
		if r.ThenDiseaseID == id {
			referencing = append(referencing, r.ID)
		}
	}
	if len(referencing) > 0 && policy != CascadeRules {
		return rejected("disease %s is referenced by rules %s", id, strings.Join(referencing, ", "))
	}
	if idx >= 0 {
		before := tx.kb.Diseases[idx].Clone()
		tx.kb.Diseases = append(tx.kb.Diseases[:idx:idx], tx.kb.Diseases[idx+1:]...)
		tx.recordChange(Change{Entity: EntityDisease, Action: ActionDelete, EntityID: id, Before: before})
	} else {
		tx.recordChange(Change{Entity: EntityDisease, Action: ActionDelete, EntityID: id, Before: unparsed.Raw})
	}
	if len(referencing) == 0 {
		return nil
	}
	kept := tx.kb.Rules[:0:0]
	for _, r := range tx.kb.Rules {
		if r.ThenDiseaseID == id {
			tx.recordChange(Change{Entity: EntityRule, Action: ActionDelete, EntityID: r.ID, Before: r.Clone(), Cascade: true})
			continue
		}
		kept = append(kept, r)
	}
	tx.kb.Rules = kept
	return nil
}

// NextRuleID returns the id AddRule would assign: the prefix followed by one
// more than the largest numeric suffix in use under that prefix.
func (tx *Transaction) NextRuleID() string {
	ids := make([]string, 0, len(tx.kb.Rules)+len(tx.unparsed))
	for _, r := range tx.kb.Rules {
		ids = append(ids, r.ID)
	}
	for _, u := range tx.unparsed {
		if u.Entity == EntityRule {
			ids = append(ids, u.ID)
		}
	}
	highest := 0
	for _, id := range ids {
		suffix, ok := strings.CutPrefix(id, tx.rulePrefix)
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(suffix); err == nil && n > highest {
			highest = n
		}
	}
	return tx.rulePrefix + strconv.Itoa(highest+1)
}

// AddRule appends a rule with an auto-assigned id. Any id on r is ignored.
func (tx *Transaction) AddRule(r Rule) (Rule, error) {
	r.ID = tx.NextRuleID()
	r.IfSymptoms = domain.CanonicalSet(r.IfSymptoms)
	r.ThenDiseaseID = strings.TrimSpace(r.ThenDiseaseID)
	tx.kb.Rules = append(tx.kb.Rules, r.Clone())
	tx.recordChange(Change{Entity: EntityRule, Action: ActionCreate, EntityID: r.ID, After: r.Clone()})
	return r.Clone(), nil
}

// EditRule applies mutator to the rule with id. The id cannot change. A rule
// that failed the parse boundary is edited from whatever of it decodes and
// takes its original place once saved.
func (tx *Transaction) EditRule(id string, mutator func(*Rule) error) (Rule, error) {
	idx := tx.ruleIndex(id)
	var before any
	var current Rule
	var unparsed UnparsedRecord
	if idx >= 0 {
		r := tx.kb.Rules[idx].Clone()
		before, current = r, r.Clone()
	} else if u, ok := tx.untyped(EntityRule, id); ok {
		unparsed = u
		before, current = u.Raw, partialRule(u.Raw)
	} else {
		return Rule{}, NotFoundError{Entity: EntityRule, ID: id}
	}
	if err := mutator(&current); err != nil {
		return Rule{}, err
	}
	current.IfSymptoms = domain.CanonicalSet(current.IfSymptoms)
	current.ThenDiseaseID = strings.TrimSpace(current.ThenDiseaseID)
	if idx >= 0 {
		current.ID = id
		tx.kb.Rules[idx] = current.Clone()
	} else {
		tx.resolve(EntityRule, id)
		current.ID = unparsed.ID
		if current.ID == "" {
			current.ID = tx.NextRuleID()
		}
		tx.kb.Rules = insertAfter(tx.kb.Rules, unparsed.After, func(r Rule) string { return r.ID }, current.Clone())
	}
	tx.recordChange(Change{Entity: EntityRule, Action: ActionUpdate, EntityID: current.ID, Before: before, After: current.Clone()})
	return current, nil
}

// DeleteRule removes the rule with id, including one that failed the parse
// boundary.
func (tx *Transaction) DeleteRule(id string) error {
	idx := tx.ruleIndex(id)
	if idx >= 0 {
		before := tx.kb.Rules[idx].Clone()
		tx.kb.Rules = append(tx.kb.Rules[:idx:idx], tx.kb.Rules[idx+1:]...)
		tx.recordChange(Change{Entity: EntityRule, Action: ActionDelete, EntityID: id, Before: before})
		return nil
	}
	unparsed, ok := tx.untyped(EntityRule, id)
	if !ok {
		return NotFoundError{Entity: EntityRule, ID: id}
	}
	tx.recordChange(Change{Entity: EntityRule, Action: ActionDelete, EntityID: id, Before: unparsed.Raw})
	return nil
}
