package dataengine

import "fmt"

// WritePlanner orders nested create/update/connect/disconnect/delete across
// relations: owner-side directives resolve before this object is
// persisted, referenced-side directives resolve after.
type WritePlanner struct {
	engine *Engine
	visited map[string]bool // keyed by "model/identity", cycle guard
}

// Save runs the full ordered plan for root and, transitively, whatever
// nested directives it carries in root's include map (populated by
// applyInputPlan).
func (p *WritePlanner) Save(root *Object) error {
	if p.visited == nil {
		p.visited = make(map[string]bool)
	}

	if err := p.validateWriteRules(root); err != nil {
		return err
	}

	ownerSide, referencedSide, err := p.classifyDirectives(root)
	if err != nil {
		return err
	}

	if root.engine.connector.SupportsTransactions() {
		return root.engine.connector.Transaction(root.env.Ctx, root.env, func(txEnv *Env) error {
			return p.run(root, txEnv, ownerSide, referencedSide)
		})
	}
	return p.run(root, root.env, ownerSide, referencedSide)
}

func (p *WritePlanner) run(root *Object, env *Env, ownerSide, referencedSide map[string]*RelationDirective) error {
	for relName, directive := range ownerSide {
		if err := p.resolveOwnerSide(root, env, relName, directive); err != nil {
			return err
		}
	}

	for field := range root.currentValues {
		f, ok := root.model.Field(field)
		if !ok || f.OnSave == nil {
			continue
		}
		if !root.modified[field] {
			continue
		}
		v, err := f.OnSave.Run(root.currentValues[field], Context{Stage: StageOnSave, FieldPath: field, Object: root, Env: env})
		if err != nil {
			return err
		}
		root.currentValues[field] = v
	}

	if err := root.engine.connector.SaveObject(env.Ctx, root); err != nil {
		return err
	}

	for relName, directive := range referencedSide {
		if err := p.resolveReferencedSide(root, env, relName, directive); err != nil {
			if env.InTransaction() {
				return err
			}
			return PartiallyApplied(primaryKeyString(root))
		}
	}
	return nil
}

func (p *WritePlanner) validateWriteRules(root *Object) error {
	for _, f := range root.model.Fields {
		if f.WriteRule == WriteOnce && !root.IsNew() {
			if _, had := root.previousValues[f.Name]; had {
				if _, changing := root.currentValues[f.Name]; changing && root.modified[f.Name] {
					return InvalidOperation(fmt.Sprintf("field %q is write-once", f.Name))
				}
			}
		}
		if f.WriteRule == WriteOnCreate && !root.IsNew() && root.modified[f.Name] {
			return InvalidOperation(fmt.Sprintf("field %q is write-on-create only", f.Name))
		}
	}
	return nil
}

// classifyDirectives splits root's pending relation directives (stashed in
// include by applyInputPlan) into owner-side and referenced-side maps, per
// the ownership rule: a relation whose Fields live on this model is
// owner-side.
func (p *WritePlanner) classifyDirectives(root *Object) (owner, referenced map[string]*RelationDirective, err error) {
	owner = make(map[string]*RelationDirective)
	referenced = make(map[string]*RelationDirective)
	seenColumns := make(map[string]string)

	for relName, raw := range root.include {
		directive, ok := raw.(*RelationDirective)
		if !ok {
			continue // already a realized *Object/[]*Object from a prior Save
		}
		rel, ok := root.model.Relation(relName)
		if !ok {
			return nil, nil, InternalError(fmt.Errorf("unknown relation %q", relName))
		}
		if rel.ownerSide() {
			for _, col := range rel.Fields {
				if owner := seenColumns[col]; owner != "" && owner != relName {
					return nil, nil, InvalidOperation(fmt.Sprintf("column %q touched by multiple relation directives", col))
				}
				seenColumns[col] = relName
			}
			owner[relName] = directive
		} else {
			referenced[relName] = directive
		}
	}
	return owner, referenced, nil
}

// resolveOwnerSide realizes the target object (recursing through Create/
// ConnectOrCreate/Connect), then copies its References values into root's
// Fields columns.
func (p *WritePlanner) resolveOwnerSide(root *Object, env *Env, relName string, d *RelationDirective) error {
	rel, _ := root.model.Relation(relName)
	peerModel, err := root.graph.Model(rel.ModelPath)
	if err != nil {
		return err
	}

	var peer *Object
	switch d.Kind {
	case DirectiveCreate:
		peer = root.engine.NewObject(peerModel, env, true)
		if err := applyInputPlan(peer, d.Create); err != nil {
			return err
		}
		key := visitKey(peerModel.Path, "new")
		if p.visited[key] {
			return InvalidOperation("cycle detected: nested Create revisits an in-progress object")
		}
		p.visited[key] = true
		if err := (&WritePlanner{engine: p.engine, visited: p.visited}).Save(peer); err != nil {
			return err
		}
	case DirectiveConnect:
		peer, err = root.engine.connector.FindUnique(env.Ctx, peerModel, d.ConnectFilter, MutationDisabled)
		if err != nil {
			return err
		}
		if peer == nil {
			return ObjectNotFound()
		}
	case DirectiveConnectOrCreate:
		peer, err = root.engine.connector.FindUnique(env.Ctx, peerModel, d.ConnectOrCreateWhere, MutationDisabled)
		if err != nil {
			return err
		}
		if peer == nil {
			peer = root.engine.NewObject(peerModel, env, true)
			if err := applyInputPlan(peer, d.ConnectOrCreateCreate); err != nil {
				return err
			}
			if err := (&WritePlanner{engine: p.engine, visited: p.visited}).Save(peer); err != nil {
				return err
			}
		}
	default:
		return InvalidOperation("unsupported owner-side directive")
	}

	for i, col := range rel.Fields {
		refField := rel.References[i]
		v, ok := peer.Get(refField)
		if !ok {
			return InternalError(fmt.Errorf("relation %q: peer missing reference field %q", relName, refField))
		}
		// Create's relation-sourced value wins over an explicit input
		// (the Create tie-break); Update is handled before this stage runs
		// since explicit fields are already set via Set in applyInputPlan.
		if err := root.Set(col, v); err != nil {
			return err
		}
	}
	root.include[relName] = peer
	return nil
}

// resolveReferencedSide applies Connect/Disconnect by updating the peer's
// foreign-key columns, and Create/Update/Upsert/Delete/DeleteMany by
// recursion. Through-relations synthesize a join-row upsert.
func (p *WritePlanner) resolveReferencedSide(root *Object, env *Env, relName string, d *RelationDirective) error {
	rel, _ := root.model.Relation(relName)
	if !rel.isDirect() {
		return p.resolveThroughRelation(root, env, relName, rel, d)
	}
	peerModel, err := root.graph.Model(rel.ModelPath)
	if err != nil {
		return err
	}

	switch d.Kind {
	case DirectiveConnect:
		peer, err := root.engine.connector.FindUnique(env.Ctx, peerModel, d.ConnectFilter, MutationEnabled)
		if err != nil {
			return err
		}
		if peer == nil {
			return ObjectNotFound()
		}
		return p.linkPeerToParent(root, peer, rel)
	case DirectiveDisconnect:
		if d.DisconnectAll {
			_, oppositeRel, err := root.graph.OppositeRelation(rel)
			if err != nil {
				return err
			}
			linked, err := root.engine.connector.FindMany(env.Ctx, peerModel, &QueryRequest{Where: ownerEqualsWhere(root, oppositeRel)}, MutationEnabled)
			if err != nil {
				return err
			}
			for _, peer := range linked {
				if err := p.unlinkPeer(peer, rel); err != nil {
					return err
				}
			}
			return nil
		}
		if d.DisconnectFilter == nil {
			return nil
		}
		peer, err := root.engine.connector.FindUnique(env.Ctx, peerModel, d.DisconnectFilter, MutationEnabled)
		if err != nil {
			return err
		}
		if peer == nil {
			return nil
		}
		return p.unlinkPeer(peer, rel)
	case DirectiveCreate:
		peer := root.engine.NewObject(peerModel, env, true)
		if err := applyInputPlan(peer, d.Create); err != nil {
			return err
		}
		if err := p.linkPeerToParent(root, peer, rel); err != nil {
			return err
		}
		return peer.Save()
	case DirectiveUpdate:
		peer, err := root.engine.connector.FindUnique(env.Ctx, peerModel, d.UpdateWhere, MutationEnabled)
		if err != nil {
			return err
		}
		if peer == nil {
			return ObjectNotFound()
		}
		if err := applyInputPlan(peer, d.UpdatePlan); err != nil {
			return err
		}
		return peer.Save()
	case DirectiveUpsert:
		peer, err := root.engine.connector.FindUnique(env.Ctx, peerModel, d.UpsertWhere, MutationEnabled)
		if err != nil {
			return err
		}
		if peer == nil {
			peer = root.engine.NewObject(peerModel, env, true)
			if err := applyInputPlan(peer, d.UpsertCreate); err != nil {
				return err
			}
			if err := p.linkPeerToParent(root, peer, rel); err != nil {
				return err
			}
			return peer.Save()
		}
		if err := applyInputPlan(peer, d.UpsertUpdate); err != nil {
			return err
		}
		return peer.Save()
	case DirectiveDelete:
		if d.DeleteAll {
			_, oppositeRel, err := root.graph.OppositeRelation(rel)
			if err != nil {
				return err
			}
			linked, err := root.engine.connector.FindMany(env.Ctx, peerModel, &QueryRequest{Where: ownerEqualsWhere(root, oppositeRel)}, MutationEnabled)
			if err != nil {
				return err
			}
			for _, peer := range linked {
				if err := peer.Delete(); err != nil {
					return err
				}
			}
			return nil
		}
		if d.DeleteFilter == nil {
			return nil
		}
		peer, err := root.engine.connector.FindUnique(env.Ctx, peerModel, d.DeleteFilter, MutationEnabled)
		if err != nil {
			return err
		}
		if peer == nil {
			return nil
		}
		return peer.Delete()
	case DirectiveDeleteMany:
		return deleteManyReferenced(root, env, peerModel, d.DeleteManyWhere)
	case DirectiveCreateMany:
		for _, childPlan := range d.CreateMany {
			peer := root.engine.NewObject(peerModel, env, true)
			if err := applyInputPlan(peer, childPlan); err != nil {
				return err
			}
			if err := p.linkPeerToParent(root, peer, rel); err != nil {
				return err
			}
		}
		return nil
	case DirectiveSet:
		// Set replaces the entire linked collection: unlink every peer
		// currently pointing at root, then connect exactly the named filters.
		_, oppositeRel, err := root.graph.OppositeRelation(rel)
		if err != nil {
			return err
		}
		current, err := root.engine.connector.FindMany(env.Ctx, peerModel, &QueryRequest{Where: ownerEqualsWhere(root, oppositeRel)}, MutationEnabled)
		if err != nil {
			return err
		}
		for _, peer := range current {
			if err := p.unlinkPeer(peer, rel); err != nil {
				return err
			}
		}
		for _, filter := range d.SetFilters {
			peer, err := root.engine.connector.FindUnique(env.Ctx, peerModel, filter, MutationEnabled)
			if err != nil {
				return err
			}
			if peer == nil {
				return ObjectNotFound()
			}
			if err := p.linkPeerToParent(root, peer, rel); err != nil {
				return err
			}
		}
		return nil
	case DirectiveUpdateMany:
		_, oppositeRel, err := root.graph.OppositeRelation(rel)
		if err != nil {
			return err
		}
		linkedWhere := ownerEqualsWhere(root, oppositeRel)
		where := linkedWhere
		if d.UpdateManyWhere != nil {
			where = Intersect(linkedWhere, d.UpdateManyWhere)
		}
		rows, err := root.engine.connector.FindMany(env.Ctx, peerModel, &QueryRequest{Where: where}, MutationEnabled)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if err := applyInputPlan(row, d.UpdateManyPlan); err != nil {
				return err
			}
			if err := row.Save(); err != nil {
				return err
			}
		}
		return nil
	default:
		return InvalidOperation("unsupported referenced-side directive")
	}
}

// ownerEqualsWhere builds a Where clause matching peer rows whose foreign-key
// columns (oppositeRel.Fields) equal root's corresponding reference values,
// i.e. "peers currently linked to root" for a referenced-side relation.
func ownerEqualsWhere(root *Object, oppositeRel *Relation) *Where {
	w := &Where{}
	for i, col := range oppositeRel.Fields {
		v, ok := root.Get(oppositeRel.References[i])
		if !ok {
			continue
		}
		w.Fields = append(w.Fields, FieldFilter{Field: col, Ops: map[Op]Value{OpEquals: v}})
	}
	return w
}

func deleteManyReferenced(root *Object, env *Env, peerModel *Model, where *Where) error {
	q := &QueryRequest{Where: where}
	rows, err := root.engine.connector.FindMany(env.Ctx, peerModel, q, MutationEnabled)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := row.Delete(); err != nil {
			return err
		}
	}
	return nil
}

// linkPeerToParent copies root's references values into the peer's
// foreign-key columns (the inverse direction of resolveOwnerSide, since here
// the foreign key lives on the peer, not on root).
func (p *WritePlanner) linkPeerToParent(root, peer *Object, rel *Relation) error {
	_, oppositeRel, err := root.graph.OppositeRelation(rel)
	if err != nil {
		return err
	}
	for i, col := range oppositeRel.Fields {
		v, ok := root.Get(oppositeRel.References[i])
		if !ok {
			return InternalError(fmt.Errorf("relation %q: root missing reference field %q", rel.Name, oppositeRel.References[i]))
		}
		if err := peer.Set(col, v); err != nil {
			return err
		}
	}
	return peer.Save()
}

func (p *WritePlanner) unlinkPeer(peer *Object, rel *Relation) error {
	_, oppositeRel, err := peer.graph.OppositeRelation(rel)
	if err != nil {
		return err
	}
	for _, col := range oppositeRel.Fields {
		if err := peer.Set(col, Null()); err != nil {
			return err
		}
	}
	return peer.Save()
}

// resolveThroughRelation synthesizes create/delete in the through model,
// representing Connect as an upsert of the join row keyed by the pair of
// endpoints.
func (p *WritePlanner) resolveThroughRelation(root *Object, env *Env, relName string, rel *Relation, d *RelationDirective) error {
	throughModel, err := root.graph.Model(rel.Through)
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

	rootJoinFilter := func() (*Where, error) {
		w := &Where{}
		for i, col := range rootSideRel.Fields {
			v, ok := root.Get(rootSideRel.References[i])
			if !ok {
				return nil, InternalError(fmt.Errorf("through relation %q: root missing field %q", relName, rootSideRel.References[i]))
			}
			w.Fields = append(w.Fields, FieldFilter{Field: col, Ops: map[Op]Value{OpEquals: v}})
		}
		return w, nil
	}

	switch d.Kind {
	case DirectiveConnect:
		peerModel, err := root.graph.Model(rel.ModelPath)
		if err != nil {
			return err
		}
		peer, err := root.engine.connector.FindUnique(env.Ctx, peerModel, d.ConnectFilter, MutationDisabled)
		if err != nil {
			return err
		}
		if peer == nil {
			return ObjectNotFound()
		}
		join := root.engine.NewObject(throughModel, env, true)
		for i, col := range rootSideRel.Fields {
			v, ok := root.Get(rootSideRel.References[i])
			if !ok {
				return InternalError(fmt.Errorf("through relation %q: root missing field %q", relName, rootSideRel.References[i]))
			}
			if err := join.Set(col, v); err != nil {
				return err
			}
		}
		for i, col := range peerSideRel.Fields {
			v, ok := peer.Get(peerSideRel.References[i])
			if !ok {
				return InternalError(fmt.Errorf("through relation %q: peer missing field %q", relName, peerSideRel.References[i]))
			}
			if err := join.Set(col, v); err != nil {
				return err
			}
		}
		pair := &Where{}
		for _, col := range append(append([]string{}, rootSideRel.Fields...), peerSideRel.Fields...) {
			v, _ := join.Get(col)
			pair.Fields = append(pair.Fields, FieldFilter{Field: col, Ops: map[Op]Value{OpEquals: v}})
		}
		existingJoins, err := root.engine.connector.FindMany(env.Ctx, throughModel, &QueryRequest{Where: pair}, MutationDisabled)
		if err != nil {
			return err
		}
		if len(existingJoins) > 0 {
			return nil
		}
		return join.Save()
	case DirectiveDisconnect, DirectiveDelete:
		where, err := rootJoinFilter()
		if err != nil {
			return err
		}
		var peerFilter UniqueFilter
		if d.Kind == DirectiveDisconnect {
			peerFilter = d.DisconnectFilter
		} else {
			peerFilter = d.DeleteFilter
		}
		if peerFilter != nil {
			peerModel, err := root.graph.Model(rel.ModelPath)
			if err != nil {
				return err
			}
			peer, err := root.engine.connector.FindUnique(env.Ctx, peerModel, peerFilter, MutationDisabled)
			if err != nil {
				return err
			}
			if peer == nil {
				return ObjectNotFound()
			}
			for i, col := range peerSideRel.Fields {
				v, ok := peer.Get(peerSideRel.References[i])
				if !ok {
					return InternalError(fmt.Errorf("through relation %q: peer missing field %q", relName, peerSideRel.References[i]))
				}
				where.Fields = append(where.Fields, FieldFilter{Field: col, Ops: map[Op]Value{OpEquals: v}})
			}
		}
		rows, err := root.engine.connector.FindMany(env.Ctx, throughModel, &QueryRequest{Where: where}, MutationEnabled)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if err := row.Delete(); err != nil {
				return err
			}
		}
		return nil
	default:
		return InvalidOperation("unsupported through-relation directive")
	}
}

func visitKey(modelPath, identity string) string { return modelPath + "/" + identity }

func primaryKeyString(o *Object) string {
	pk := o.model.PrimaryIndex.Fields[0]
	v, ok := o.Get(pk)
	if !ok {
		return ""
	}
	return v.String()
}
