package generator

import (
	"fmt"
	"strings"
)

// Kind names an archetype.
type Kind string

const (
	KindTask      Kind = "task"
	KindEcommerce Kind = "ecommerce"
	KindBlog      Kind = "blog"
	KindGeneric   Kind = "generic"
)

// FieldType selects the column, form field and serialization of a Field.
type FieldType int

const (
	String FieldType = iota
	Text
	Integer
	Float
	Boolean
	DateTime
	Choice
	Reference
)

type Option struct {
	Value string
	Label string
}

// Field is one model attribute.
type Field struct {
	Name     string
	Label    string
	Type     FieldType
	Required bool

	// MaxLength applies to String fields.
	MaxLength int
	// Default is a Python literal, e.g. 'pending' or 0.
	Default string
	// Min is a Python literal lower bound for numeric fields.
	Min     string
	Options []Option

	// References names the target entity of a Reference field. Relation and
	// Backref name the SQLAlchemy relationship on either side; Display is the
	// attribute of the target shown to users.
	References string
	Relation   string
	Backref    string
	Display    string

	InForm bool
	InList bool

	refOwner string
}

// Sample is one row inserted by init_db.py. Values are Python expressions and
// may refer to admin_user, demo_user or the Var of an earlier sample.
type Sample struct {
	Var    string
	Values []Value
}

type Value struct {
	Field string
	Expr  string
}

// Entity is one model of the generated application.
type Entity struct {
	Name   string
	Label  string
	Plural string
	Doc    string
	Fields []Field

	// Owner is the field set to the signed in user on create. Owned entities
	// are scoped to their owner for updates and deletes.
	Owner string
	// Public entities can be listed without signing in.
	Public bool
	// AdminOnly entities can only be changed by admins.
	AdminOnly bool
	// Published entities are only listed once their published flag is set.
	Published   bool
	OrderNewest bool
	// Pages adds HTML list and create pages on top of the JSON API.
	Pages bool

	Samples []Sample
}

// Archetype is a canned application shape.
type Archetype struct {
	Kind        Kind
	Title       string
	Description string
	Features    []string
	Entities    []Entity
}

// Var is the snake_case singular used for Python identifiers.
func (e Entity) Var() string {
	return snake(e.Name)
}

// Table is the default Flask-SQLAlchemy table name.
func (e Entity) Table() string {
	return snake(e.Name)
}

func (e Entity) PluralLabel() string {
	return titleWords(strings.ReplaceAll(e.Plural, "_", " "))
}

func (e Entity) FormName() string {
	return e.Name + "Form"
}

func (e Entity) FormFields() []Field {
	return e.filter(func(f Field) bool { return f.InForm })
}

func (e Entity) ListFields() []Field {
	return e.filter(func(f Field) bool { return f.InList })
}

// Writable are the fields accepted from API clients.
func (e Entity) Writable() []Field {
	return e.filter(func(f Field) bool { return f.Name != e.Owner })
}

// RequiredKeys are the API fields that must be present on create. Fields
// with a default are optional.
func (e Entity) RequiredKeys() []string {
	var keys []string
	for _, f := range e.Writable() {
		if f.Required && f.Type != Boolean && f.Default == "" {
			keys = append(keys, f.Name)
		}
	}
	return keys
}

// Filters are the fields API list endpoints accept as query parameters.
func (e Entity) Filters() []string {
	var keys []string
	for _, f := range e.Fields {
		if f.Name == e.Owner {
			continue
		}
		if f.Type == Choice || f.Type == Reference {
			keys = append(keys, f.Name)
		}
	}
	return keys
}

// Relations are the Reference fields that declare a relationship.
func (e Entity) Relations() []Field {
	return e.filter(func(f Field) bool { return f.Type == Reference && f.Relation != "" })
}

// SelectFields are the form fields whose choices come from the database.
func (e Entity) SelectFields() []Field {
	return e.filter(func(f Field) bool { return f.InForm && f.Type == Reference })
}

func (e Entity) filter(keep func(Field) bool) []Field {
	var out []Field
	for _, f := range e.Fields {
		if keep(f) {
			out = append(out, f)
		}
	}
	return out
}

func (f Field) IsDateTime() bool { return f.Type == DateTime }
func (f Field) IsBoolean() bool  { return f.Type == Boolean }
func (f Field) IsSelect() bool   { return f.Type == Choice || f.Type == Reference }

// Column is the argument list of the db.Column declaration.
func (f Field) Column() string {
	var parts []string
	switch f.Type {
	case String:
		parts = append(parts, fmt.Sprintf("db.String(%d)", f.maxLength()))
	case Text:
		parts = append(parts, "db.Text")
	case Integer:
		parts = append(parts, "db.Integer")
	case Float:
		parts = append(parts, "db.Float")
	case Boolean:
		parts = append(parts, "db.Boolean")
	case DateTime:
		parts = append(parts, "db.DateTime")
	case Choice:
		parts = append(parts, "db.String(20)")
	case Reference:
		parts = append(parts, "db.Integer", fmt.Sprintf("db.ForeignKey('%s.id')", snake(f.References)))
	}
	if f.Required && f.Type != Boolean {
		parts = append(parts, "nullable=False")
	}
	if f.Default != "" {
		parts = append(parts, "default="+f.Default)
	} else if f.Type == Boolean {
		parts = append(parts, "default=False")
	}
	return strings.Join(parts, ", ")
}

// ColumnComment lists the allowed values of a Choice field.
func (f Field) ColumnComment() string {
	if f.Type != Choice {
		return ""
	}
	values := make([]string, len(f.Options))
	for i, o := range f.Options {
		values[i] = o.Value
	}
	return "  # " + strings.Join(values, ", ")
}

// Relationship is the db.relationship declaration for a Reference field.
func (f Field) Relationship() string {
	if f.Required && f.References != "User" {
		return fmt.Sprintf("db.relationship('%s', backref=db.backref('%s', cascade='all, delete-orphan'))", f.References, f.Backref)
	}
	return fmt.Sprintf("db.relationship('%s', backref='%s')", f.References, f.Backref)
}

// Serialized is the to_dict expression for the field.
func (f Field) Serialized() string {
	if f.Type == DateTime {
		return fmt.Sprintf("self.%s.isoformat() if self.%s else None", f.Name, f.Name)
	}
	return "self." + f.Name
}

// DisplayExpr is the Jinja expression that renders the field of row v.
func (f Field) DisplayExpr(v string) string {
	switch {
	case f.Type == Reference && f.Relation != "":
		return fmt.Sprintf("%s.%s.%s if %s.%s else ''", v, f.Relation, f.display(), v, f.Relation)
	case f.Type == DateTime:
		return fmt.Sprintf("%s.%s.strftime('%%Y-%%m-%%d') if %s.%s else ''", v, f.Name, v, f.Name)
	case f.Type == Choice:
		return fmt.Sprintf("%s.%s|replace('_', ' ')|title", v, f.Name)
	case f.Type == Boolean:
		return fmt.Sprintf("'Yes' if %s.%s else 'No'", v, f.Name)
	}
	return fmt.Sprintf("%s.%s if %s.%s is not none else ''", v, f.Name, v, f.Name)
}

// FormField is the WTForms field declaration.
func (f Field) FormField() string {
	label := pyStr(f.Label)
	var args []string
	switch f.Type {
	case DateTime:
		args = append(args, "format='%Y-%m-%dT%H:%M'")
	case Choice:
		opts := make([]string, len(f.Options))
		for i, o := range f.Options {
			opts[i] = fmt.Sprintf("(%s, %s)", pyStr(o.Value), pyStr(o.Label))
		}
		args = append(args, "choices=["+strings.Join(opts, ", ")+"]")
		if f.Default != "" {
			args = append(args, "default="+f.Default)
		}
	case Reference:
		args = append(args, "coerce=int")
	case Integer, Float:
		if f.Default != "" {
			args = append(args, "default="+f.Default)
		}
	}
	if v := f.Validators(); len(v) > 0 {
		args = append(args, "validators=["+strings.Join(v, ", ")+"]")
	}
	return fmt.Sprintf("%s(%s)", f.formClass(), strings.Join(append([]string{label}, args...), ", "))
}

func (f Field) formClass() string {
	switch f.Type {
	case Text:
		return "TextAreaField"
	case Integer:
		return "IntegerField"
	case Float:
		return "FloatField"
	case Boolean:
		return "BooleanField"
	case DateTime:
		return "DateTimeLocalField"
	case Choice, Reference:
		return "SelectField"
	}
	return "StringField"
}

// Validators are the WTForms validator calls for the field.
func (f Field) Validators() []string {
	var v []string
	switch f.Type {
	case String, Text:
		if f.Required {
			v = append(v, "DataRequired()")
		}
		if f.Type == String {
			v = append(v, fmt.Sprintf("Length(max=%d)", f.maxLength()))
		}
	case Integer, Float:
		if f.Required {
			v = append(v, "InputRequired()")
		} else {
			v = append(v, "Optional()")
		}
		if f.Min != "" {
			v = append(v, fmt.Sprintf("NumberRange(min=%s)", f.Min))
		}
	case DateTime:
		v = append(v, "Optional()")
	}
	return v
}

// FormValue is the expression that reads the submitted value.
func (f Field) FormValue() string {
	if f.Type == Reference && !f.Required {
		return fmt.Sprintf("form.%s.data or None", f.Name)
	}
	return fmt.Sprintf("form.%s.data", f.Name)
}

// ChoicesExpr populates the choices of a Reference select field.
func (f Field) ChoicesExpr() string {
	query := f.References + ".query"
	if f.refOwner != "" {
		query = fmt.Sprintf("%s.query.filter_by(%s=current_user.id)", f.References, f.refOwner)
	}
	expr := fmt.Sprintf("[(row.id, row.%s) for row in %s.all()]", f.display(), query)
	if !f.Required {
		expr = "[(0, '-- None --')] + " + expr
	}
	return expr
}

// APICreate is the expression that reads the field from a JSON create request.
func (f Field) APICreate() string {
	if f.Type == DateTime {
		return fmt.Sprintf("parse_datetime(data.get('%s'))", f.Name)
	}
	if f.Default != "" {
		return fmt.Sprintf("data.get('%s', %s)", f.Name, f.Default)
	}
	if f.Type == Boolean {
		return fmt.Sprintf("bool(data.get('%s', False))", f.Name)
	}
	return fmt.Sprintf("data.get('%s')", f.Name)
}

// APIUpdate is the expression that reads the field from a JSON update request.
func (f Field) APIUpdate() string {
	if f.Type == DateTime {
		return fmt.Sprintf("parse_datetime(data['%s'])", f.Name)
	}
	return fmt.Sprintf("data['%s']", f.Name)
}

func (f Field) maxLength() int {
	if f.MaxLength > 0 {
		return f.MaxLength
	}
	return 120
}

func (f Field) display() string {
	if f.Display != "" {
		return f.Display
	}
	return "id"
}

// Models are the model class names in declaration order, User first.
func (a Archetype) Models() []string {
	names := []string{"User"}
	for _, e := range a.Entities {
		names = append(names, e.Name)
	}
	return names
}

func (a Archetype) PageEntities() []Entity {
	var out []Entity
	for _, e := range a.Entities {
		if e.Pages {
			out = append(out, e)
		}
	}
	return out
}

// Forms are the form class names imported by routes.py.
func (a Archetype) Forms() []string {
	var names []string
	for _, e := range a.PageEntities() {
		names = append(names, e.FormName())
	}
	return names
}

// FieldImports are the WTForms field classes used by forms.py.
func (a Archetype) FieldImports() []string {
	seen := newOrderedSet("StringField", "PasswordField", "BooleanField")
	for _, e := range a.PageEntities() {
		for _, f := range e.FormFields() {
			seen.add(f.formClass())
		}
	}
	return seen.items
}

// ValidatorImports are the WTForms validators used by forms.py.
func (a Archetype) ValidatorImports() []string {
	seen := newOrderedSet("DataRequired", "Email", "EqualTo", "Length")
	for _, e := range a.PageEntities() {
		for _, f := range e.FormFields() {
			for _, v := range f.Validators() {
				name, _, _ := strings.Cut(v, "(")
				seen.add(name)
			}
		}
	}
	return seen.items
}

// HasSamples reports whether init_db.py seeds archetype data.
func (a Archetype) HasSamples() bool {
	for _, e := range a.Entities {
		if len(e.Samples) > 0 {
			return true
		}
	}
	return false
}

// link resolves cross-entity details once the archetype is declared.
func (a Archetype) link() Archetype {
	owners := make(map[string]string, len(a.Entities))
	for _, e := range a.Entities {
		owners[e.Name] = e.Owner
	}
	entities := make([]Entity, len(a.Entities))
	for i, e := range a.Entities {
		fields := make([]Field, len(e.Fields))
		for j, f := range e.Fields {
			if f.Type == Reference {
				f.refOwner = owners[f.References]
			}
			fields[j] = f
		}
		e.Fields = fields
		entities[i] = e
	}
	a.Entities = entities
	return a
}

type orderedSet struct {
	items []string
	seen  map[string]struct{}
}

func newOrderedSet(items ...string) *orderedSet {
	s := &orderedSet{seen: make(map[string]struct{})}
	for _, item := range items {
		s.add(item)
	}
	return s
}

func (s *orderedSet) add(item string) {
	if _, ok := s.seen[item]; ok {
		return
	}
	s.seen[item] = struct{}{}
	s.items = append(s.items, item)
}
