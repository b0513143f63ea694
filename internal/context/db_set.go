package context

import (
	"context"
	"fmt"
	"reflect"

	"gorm.io/gorm/clause"

	"github.com/shepherrrd/schemaflow/internal/models"
	"github.com/shepherrrd/schemaflow/internal/query"
)

// DbSet is the table of one registered entity type.
type DbSet struct {
	context     *DbContext
	entityType  reflect.Type
	entityModel *models.EntityModel
}

func newDbSet(ctx *DbContext, entityType reflect.Type, entityModel *models.EntityModel) *DbSet {
	return &DbSet{
		context:     ctx,
		entityType:  entityType,
		entityModel: entityModel,
	}
}

func (ds *DbSet) TableName() string {
	return ds.entityModel.Table.Name
}

func (ds *DbSet) GetEntityType() reflect.Type {
	return ds.entityType
}

func (ds *DbSet) GetEntityModel() *models.EntityModel {
	return ds.entityModel
}

// Create inserts value, a pointer to an entity or to a slice of entities.
// The table is written the way migrations write it, so postgres folds an
// unquoted mixed-case name the same way in both.
func (ds *DbSet) Create(c context.Context, value any) error {
	table := clause.Table{Name: ds.context.Compiler().Idents.Quote(ds.TableName()), Raw: true}
	err := ds.context.db.WithContext(c).
		Table(ds.TableName()).
		Clauses(clause.Insert{Table: table}).
		Create(value).Error
	if err != nil {
		return ds.context.driver.WrapError("INSERT INTO "+ds.TableName(), err)
	}
	return nil
}

// Many returns the association declared by the many field with the given Go
// or column name.
func (ds *DbSet) Many(field string) (models.Association, error) {
	a, ok := ds.entityModel.Association(field)
	if !ok {
		return models.Association{}, fmt.Errorf("%s has no many field %s", ds.TableName(), field)
	}
	return a, nil
}

// Link records that the row keyed owner holds the target row keyed has.
func (ds *DbSet) Link(c context.Context, field string, owner, has any) error {
	a, err := ds.Many(field)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("INSERT INTO %s (owner, has) VALUES (?, ?)", ds.context.Compiler().Idents.Quote(a.Table.Name))
	if err := ds.context.db.WithContext(c).Exec(stmt, owner, has).Error; err != nil {
		return ds.context.driver.WrapError(stmt, err)
	}
	return nil
}

// Unlink removes every owner to has link recorded for field.
func (ds *DbSet) Unlink(c context.Context, field string, owner, has any) (int64, error) {
	a, err := ds.Many(field)
	if err != nil {
		return 0, err
	}
	return ds.context.Delete(c, a.Table.Name, query.AllOf(query.Eq("owner", owner), query.Eq("has", has)))
}

// Find scans the rows matching filter into dest, a pointer to a slice.
func (ds *DbSet) Find(c context.Context, filter query.BoolExpr, dest any) error {
	return ds.context.Find(c, query.Select{Table: ds.TableName(), Filter: filter}, dest)
}

func (ds *DbSet) Count(c context.Context, filter query.BoolExpr) (int64, error) {
	return ds.context.Count(c, ds.TableName(), filter)
}

func (ds *DbSet) Delete(c context.Context, filter query.BoolExpr) (int64, error) {
	return ds.context.Delete(c, ds.TableName(), filter)
}
