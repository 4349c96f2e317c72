package dataengine

import (
	"fmt"
	"strings"
)

// applySelect narrows the output fields ToJSON emits for freshly fetched
// rows, per the Query Compiler's select/include post-processor. A nil or
// empty Select leaves the object's full OutputKeys set in effect.
func applySelect(o *Object, sel map[string]bool) {
	if len(sel) == 0 {
		return
	}
	o.selectedFields = sel
}

// keyTuple joins a row of Values into one coalescing key, treating a
// relation's Fields/References pair as a composite key when it spans more
// than one column.
func keyTuple(vals []Value) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = v.String()
	}
	return strings.Join(parts, "\x1f")
}

// resolveIncludes satisfies a QueryRequest's Include set for a batch of
// already-fetched rows, per the Query Compiler component design: "include is
// satisfied by issuing one additional query per relation per batch, keyed by
// the parents' references values; duplicates are coalesced with a Set."
func (e *Engine) resolveIncludes(env *Env, m *Model, rows []*Object, include map[string]bool) error {
	if len(rows) == 0 {
		return nil
	}
	for relName, want := range include {
		if !want {
			continue
		}
		rel, ok := m.Relation(relName)
		if !ok {
			return InvalidOperation("unknown include relation " + relName)
		}
		if rel.isDirect() {
			if err := e.resolveDirectInclude(env, rows, rel); err != nil {
				return err
			}
			continue
		}
		if err := e.resolveThroughInclude(env, rows, rel); err != nil {
			return err
		}
	}
	return nil
}

// resolveDirectInclude handles both owner-side relations (this model holds
// the foreign-key columns) and referenced-side relations (the peer holds
// them, resolved via the declared Opposite), issuing one batched FindMany
// against the peer model keyed by the distinct local key tuples.
func (e *Engine) resolveDirectInclude(env *Env, rows []*Object, rel *Relation) error {
	var localFields, foreignFields []string
	if rel.ownerSide() {
		localFields, foreignFields = rel.Fields, rel.References
	} else {
		_, peerRel, err := rows[0].graph.OppositeRelation(rel)
		if err != nil {
			return err
		}
		localFields, foreignFields = peerRel.References, peerRel.Fields
	}
	peer, err := rows[0].graph.Model(rel.ModelPath)
	if err != nil {
		return err
	}
	return e.fetchAndAttach(env, rows, rel.Name, rel.IsVec, localFields, peer, foreignFields)
}

// fetchAndAttach is the shared batched-fetch step: collect the distinct
// local key tuples across rows, issue one query against peer filtered by
// per-column `in` clauses (a superset when the key is compound, since the
// Where grammar has no tuple-equality operator; exact tuples are
// re-verified in memory before attaching), and assign matches back.
func (e *Engine) fetchAndAttach(env *Env, rows []*Object, relName string, isVec bool, localFields []string, peer *Model, foreignFields []string) error {
	rowKeys := make([]string, len(rows))
	colValues := make([][]Value, len(localFields))
	colSeen := make([]map[string]bool, len(localFields))
	for i := range localFields {
		colSeen[i] = make(map[string]bool)
	}
	anyKey := false

	for i, row := range rows {
		vals := make([]Value, len(localFields))
		complete := true
		for j, f := range localFields {
			v, ok := row.Get(f)
			if !ok || v.IsNull() {
				complete = false
				break
			}
			vals[j] = v
		}
		if !complete {
			continue
		}
		rowKeys[i] = keyTuple(vals)
		anyKey = true
		for j, v := range vals {
			fk := v.String()
			if !colSeen[j][fk] {
				colSeen[j][fk] = true
				colValues[j] = append(colValues[j], v)
			}
		}
	}
	if !anyKey {
		return nil
	}

	w := &Where{}
	for j, field := range foreignFields {
		w.Fields = append(w.Fields, FieldFilter{Field: field, Ops: map[Op]Value{OpIn: NewVec(colValues[j])}})
	}

	peerRows, err := e.connector.FindMany(env.Ctx, peer, &QueryRequest{Where: w}, MutationDisabled)
	if err != nil {
		return err
	}

	byKey := make(map[string][]*Object)
	for _, pr := range peerRows {
		vals := make([]Value, len(foreignFields))
		ok := true
		for j, f := range foreignFields {
			v, got := pr.Get(f)
			if !got {
				ok = false
				break
			}
			vals[j] = v
		}
		if !ok {
			continue
		}
		key := keyTuple(vals)
		byKey[key] = append(byKey[key], pr)
	}

	for i, row := range rows {
		if rowKeys[i] == "" {
			if isVec {
				row.include[relName] = []*Object{}
			}
			continue
		}
		matches := byKey[rowKeys[i]]
		if isVec {
			if matches == nil {
				matches = []*Object{}
			}
			row.include[relName] = matches
		} else if len(matches) > 0 {
			row.include[relName] = matches[0]
		}
	}
	return nil
}

// resolveThroughInclude satisfies an include for a many-to-many relation by
// resolving the through model's two endpoint relations and issuing two
// batched queries: through rows keyed by the root's reference values, then
// peer rows keyed by the through rows' peer-side foreign-key values.
func (e *Engine) resolveThroughInclude(env *Env, rows []*Object, rel *Relation) error {
	graph := rows[0].graph
	throughModel, err := graph.Model(rel.Through)
	if err != nil {
		return err
	}
	rootSideRel, ok := throughModel.Relation(rel.Foreign)
	if !ok {
		return InternalError(fmt.Errorf("through model %q missing relation %q", rel.Through, rel.Foreign))
	}
	var peerSideRel *Relation
	for _, r := range throughModel.Relations {
		if r.Name != rootSideRel.Name && r.isDirect() && r.ModelPath == rel.ModelPath {
			peerSideRel = r
			break
		}
	}
	if peerSideRel == nil {
		return InternalError(fmt.Errorf("through model %q has no endpoint relation to %q", rel.Through, rel.ModelPath))
	}

	rowKeys := make([]string, len(rows))
	var rootRefValues []Value
	seenRef := make(map[string]bool)
	for i, row := range rows {
		v, ok := row.Get(rootSideRel.References[0])
		if !ok {
			continue
		}
		key := v.String()
		rowKeys[i] = key
		if !seenRef[key] {
			seenRef[key] = true
			rootRefValues = append(rootRefValues, v)
		}
	}
	if len(rootRefValues) == 0 {
		for i := range rows {
			rows[i].include[rel.Name] = []*Object{}
		}
		return nil
	}

	w := &Where{Fields: []FieldFilter{{Field: rootSideRel.Fields[0], Ops: map[Op]Value{OpIn: NewVec(rootRefValues)}}}}
	throughRows, err := e.connector.FindMany(env.Ctx, throughModel, &QueryRequest{Where: w}, MutationDisabled)
	if err != nil {
		return err
	}

	throughByRootKey := make(map[string][]*Object)
	var peerFKValues []Value
	seenPeerFK := make(map[string]bool)
	for _, tr := range throughRows {
		v, ok := tr.Get(rootSideRel.Fields[0])
		if !ok {
			continue
		}
		key := v.String()
		throughByRootKey[key] = append(throughByRootKey[key], tr)

		pv, ok := tr.Get(peerSideRel.Fields[0])
		if !ok {
			continue
		}
		pk := pv.String()
		if !seenPeerFK[pk] {
			seenPeerFK[pk] = true
			peerFKValues = append(peerFKValues, pv)
		}
	}
	if len(peerFKValues) == 0 {
		for i := range rows {
			rows[i].include[rel.Name] = []*Object{}
		}
		return nil
	}

	peer, err := graph.Model(rel.ModelPath)
	if err != nil {
		return err
	}
	peerWhere := &Where{Fields: []FieldFilter{{Field: peerSideRel.References[0], Ops: map[Op]Value{OpIn: NewVec(peerFKValues)}}}}
	peerRows, err := e.connector.FindMany(env.Ctx, peer, &QueryRequest{Where: peerWhere}, MutationDisabled)
	if err != nil {
		return err
	}
	peerByKey := make(map[string]*Object)
	for _, pr := range peerRows {
		v, ok := pr.Get(peerSideRel.References[0])
		if !ok {
			continue
		}
		peerByKey[v.String()] = pr
	}

	for i, row := range rows {
		if rowKeys[i] == "" {
			row.include[rel.Name] = []*Object{}
			continue
		}
		trs := throughByRootKey[rowKeys[i]]
		result := make([]*Object, 0, len(trs))
		for _, tr := range trs {
			pv, ok := tr.Get(peerSideRel.Fields[0])
			if !ok {
				continue
			}
			if pr, ok := peerByKey[pv.String()]; ok {
				result = append(result, pr)
			}
		}
		row.include[rel.Name] = result
	}
	return nil
}
