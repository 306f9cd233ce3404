package generator

var taskArchetype = Archetype{
	Kind:        KindTask,
	Title:       "Task Manager",
	Description: "A collaborative task manager for small teams, with projects, priorities and due dates.",
	Features: []string{
		"User registration and login",
		"Projects to group related work",
		"Tasks with status, priority and due dates",
		"Per-user task lists",
		"JSON API for tasks and projects",
	},
	Entities: []Entity{
		{
			Name:   "Project",
			Label:  "Project",
			Plural: "projects",
			Doc:    "A named group of tasks",
			Owner:  "owner_id",
			Pages:  true,
			Fields: []Field{
				{Name: "name", Label: "Project Name", Type: String, Required: true, MaxLength: 120, InForm: true, InList: true},
				{Name: "description", Label: "Description", Type: Text, InForm: true, InList: true},
				{Name: "owner_id", Label: "Owner", Type: Reference, Required: true, References: "User", Relation: "owner", Backref: "projects", Display: "username"},
			},
			Samples: []Sample{
				{Var: "website", Values: []Value{
					{"name", "'Website Redesign'"},
					{"description", "'Refresh the public website with the new brand.'"},
					{"owner_id", "admin_user.id"},
				}},
				{Var: "launch", Values: []Value{
					{"name", "'Product Launch'"},
					{"description", "'Everything needed for the spring release.'"},
					{"owner_id", "demo_user.id"},
				}},
			},
		},
		{
			Name:   "Task",
			Label:  "Task",
			Plural: "tasks",
			Doc:    "A unit of work assigned to a user",
			Owner:  "assigned_to_id",
			Pages:  true,
			Fields: []Field{
				{Name: "title", Label: "Task Title", Type: String, Required: true, MaxLength: 120, InForm: true, InList: true},
				{Name: "description", Label: "Description", Type: Text, InForm: true},
				{Name: "status", Label: "Status", Type: Choice, Default: "'pending'", InForm: true, InList: true, Options: []Option{
					{"pending", "Pending"}, {"in_progress", "In Progress"}, {"completed", "Completed"},
				}},
				{Name: "priority", Label: "Priority", Type: Choice, Default: "'medium'", InForm: true, InList: true, Options: []Option{
					{"low", "Low"}, {"medium", "Medium"}, {"high", "High"},
				}},
				{Name: "due_date", Label: "Due Date", Type: DateTime, InForm: true, InList: true},
				{Name: "project_id", Label: "Project", Type: Reference, References: "Project", Relation: "project", Backref: "tasks", Display: "name", InForm: true, InList: true},
				{Name: "assigned_to_id", Label: "Assigned To", Type: Reference, References: "User", Relation: "assigned_to", Backref: "tasks", Display: "username"},
			},
			Samples: []Sample{
				{Var: "homepage", Values: []Value{
					{"title", "'Design the new homepage'"},
					{"description", "'Wireframes and a first visual draft.'"},
					{"status", "'in_progress'"},
					{"priority", "'high'"},
					{"due_date", "datetime.utcnow() + timedelta(days=7)"},
					{"project_id", "website.id"},
					{"assigned_to_id", "admin_user.id"},
				}},
				{Var: "announcement", Values: []Value{
					{"title", "'Write launch announcement'"},
					{"status", "'pending'"},
					{"priority", "'medium'"},
					{"due_date", "datetime.utcnow() + timedelta(days=14)"},
					{"project_id", "launch.id"},
					{"assigned_to_id", "demo_user.id"},
				}},
				{Var: "kickoff", Values: []Value{
					{"title", "'Schedule kickoff meeting'"},
					{"status", "'completed'"},
					{"priority", "'low'"},
					{"project_id", "launch.id"},
					{"assigned_to_id", "demo_user.id"},
				}},
			},
		},
	},
}

var ecommerceArchetype = Archetype{
	Kind:        KindEcommerce,
	Title:       "Online Store",
	Description: "An online store with a product catalog, categories and a shopping cart.",
	Features: []string{
		"User registration and login",
		"Public product catalog grouped by category",
		"Admin-only product and category management",
		"Per-user shopping cart",
		"JSON API for products and the cart",
	},
	Entities: []Entity{
		{
			Name:      "Category",
			Label:     "Category",
			Plural:    "categories",
			Doc:       "A product category",
			Public:    true,
			AdminOnly: true,
			Pages:     true,
			Fields: []Field{
				{Name: "name", Label: "Category Name", Type: String, Required: true, MaxLength: 80, InForm: true, InList: true},
				{Name: "description", Label: "Description", Type: Text, InForm: true, InList: true},
			},
			Samples: []Sample{
				{Var: "pottery", Values: []Value{{"name", "'Pottery'"}, {"description", "'Hand-thrown bowls, mugs and vases.'"}}},
				{Var: "textiles", Values: []Value{{"name", "'Textiles'"}, {"description", "'Woven and knitted goods.'"}}},
			},
		},
		{
			Name:      "Product",
			Label:     "Product",
			Plural:    "products",
			Doc:       "An item for sale",
			Public:    true,
			AdminOnly: true,
			Pages:     true,
			Fields: []Field{
				{Name: "name", Label: "Product Name", Type: String, Required: true, MaxLength: 120, InForm: true, InList: true},
				{Name: "description", Label: "Description", Type: Text, InForm: true},
				{Name: "price", Label: "Price", Type: Float, Required: true, Min: "0", InForm: true, InList: true},
				{Name: "stock", Label: "Stock", Type: Integer, Default: "0", Min: "0", InForm: true, InList: true},
				{Name: "category_id", Label: "Category", Type: Reference, Required: true, References: "Category", Relation: "category", Backref: "products", Display: "name", InForm: true, InList: true},
			},
			Samples: []Sample{
				{Var: "mug", Values: []Value{
					{"name", "'Speckled Mug'"},
					{"description", "'Stoneware mug with a speckled glaze.'"},
					{"price", "18.5"},
					{"stock", "24"},
					{"category_id", "pottery.id"},
				}},
				{Var: "vase", Values: []Value{
					{"name", "'Bud Vase'"},
					{"price", "32.0"},
					{"stock", "8"},
					{"category_id", "pottery.id"},
				}},
				{Var: "scarf", Values: []Value{
					{"name", "'Merino Scarf'"},
					{"description", "'Hand-knitted from undyed merino wool.'"},
					{"price", "45.0"},
					{"stock", "12"},
					{"category_id", "textiles.id"},
				}},
			},
		},
		{
			Name:   "CartItem",
			Label:  "Cart Item",
			Plural: "cart_items",
			Doc:    "A product in a user's cart",
			Owner:  "user_id",
			Pages:  true,
			Fields: []Field{
				{Name: "product_id", Label: "Product", Type: Reference, Required: true, References: "Product", Relation: "product", Backref: "cart_items", Display: "name", InForm: true, InList: true},
				{Name: "quantity", Label: "Quantity", Type: Integer, Required: true, Default: "1", Min: "1", InForm: true, InList: true},
				{Name: "user_id", Label: "User", Type: Reference, Required: true, References: "User", Relation: "user", Backref: "cart_items", Display: "username"},
			},
			Samples: []Sample{
				{Var: "demo_cart", Values: []Value{
					{"product_id", "mug.id"},
					{"quantity", "2"},
					{"user_id", "demo_user.id"},
				}},
			},
		},
	},
}

var blogArchetype = Archetype{
	Kind:        KindBlog,
	Title:       "Blog",
	Description: "A personal blog with published posts, drafts and reader comments.",
	Features: []string{
		"User registration and login",
		"Posts with summaries and a draft/published flag",
		"Newest-first public post listing",
		"Comments on posts",
		"JSON API for posts and comments",
	},
	Entities: []Entity{
		{
			Name:        "Post",
			Label:       "Post",
			Plural:      "posts",
			Doc:         "A blog post",
			Owner:       "author_id",
			Public:      true,
			Published:   true,
			OrderNewest: true,
			Pages:       true,
			Fields: []Field{
				{Name: "title", Label: "Title", Type: String, Required: true, MaxLength: 120, InForm: true, InList: true},
				{Name: "content", Label: "Content", Type: Text, Required: true, InForm: true},
				{Name: "summary", Label: "Summary", Type: String, MaxLength: 255, InForm: true, InList: true},
				{Name: "published", Label: "Published", Type: Boolean, InForm: true},
				{Name: "author_id", Label: "Author", Type: Reference, Required: true, References: "User", Relation: "author", Backref: "posts", Display: "username", InList: true},
			},
			Samples: []Sample{
				{Var: "welcome", Values: []Value{
					{"title", "'Welcome to the blog'"},
					{"content", "'This is the first post. Edit or delete it, then start writing!'"},
					{"summary", "'A short introduction.'"},
					{"published", "True"},
					{"author_id", "admin_user.id"},
				}},
				{Var: "draft", Values: []Value{
					{"title", "'Ideas for next week'"},
					{"content", "'A draft that only shows up once it is published.'"},
					{"published", "False"},
					{"author_id", "demo_user.id"},
				}},
			},
		},
		{
			Name:   "Comment",
			Label:  "Comment",
			Plural: "comments",
			Doc:    "A reader comment on a post",
			Owner:  "author_id",
			Public: true,
			Fields: []Field{
				{Name: "content", Label: "Comment", Type: Text, Required: true, InForm: true},
				{Name: "post_id", Label: "Post", Type: Reference, Required: true, References: "Post", Relation: "post", Backref: "comments", Display: "title"},
				{Name: "author_id", Label: "Author", Type: Reference, Required: true, References: "User", Relation: "author", Backref: "comments", Display: "username"},
			},
			Samples: []Sample{
				{Var: "first_comment", Values: []Value{
					{"content", "'Great start, looking forward to more.'"},
					{"post_id", "welcome.id"},
					{"author_id", "demo_user.id"},
				}},
			},
		},
	},
}

var genericArchetype = Archetype{
	Kind:        KindGeneric,
	Title:       "Web Application",
	Description: "A starter web application with user accounts and a simple item tracker.",
	Features: []string{
		"User registration and login",
		"Personal item list",
		"JSON API for items",
	},
	Entities: []Entity{
		{
			Name:   "Item",
			Label:  "Item",
			Plural: "items",
			Doc:    "A tracked item",
			Owner:  "owner_id",
			Pages:  true,
			Fields: []Field{
				{Name: "name", Label: "Name", Type: String, Required: true, MaxLength: 120, InForm: true, InList: true},
				{Name: "description", Label: "Description", Type: Text, InForm: true, InList: true},
				{Name: "owner_id", Label: "Owner", Type: Reference, Required: true, References: "User", Relation: "owner", Backref: "items", Display: "username"},
			},
			Samples: []Sample{
				{Var: "first_item", Values: []Value{
					{"name", "'First item'"},
					{"description", "'Created by init_db.py.'"},
					{"owner_id", "demo_user.id"},
				}},
			},
		},
	},
}

// Archetypes returns every archetype keyed by kind.
func Archetypes() map[Kind]Archetype {
	return map[Kind]Archetype{
		KindTask:      taskArchetype.link(),
		KindEcommerce: ecommerceArchetype.link(),
		KindBlog:      blogArchetype.link(),
		KindGeneric:   genericArchetype.link(),
	}
}
