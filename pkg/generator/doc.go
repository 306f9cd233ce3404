/*
Package generator turns a short natural-language description of a website into a
ready-to-run Flask project.

A keyword classifier picks one of a handful of canned archetypes (task manager,
online store, blog, or a generic fallback). Each archetype is plain data: its
entities, their fields and how those fields map onto SQLAlchemy columns, WTForms
fields and JSON API handlers. The project files are rendered from text templates
that walk that data, so adding an archetype never needs a new template.

Templates are embedded in the binary and can be overridden from a directory on
disk. They use [[ ]] as action delimiters so that the Jinja {{ }} and {% %}
markup in the emitted HTML passes through untouched.
*/
package generator
