/*
Package builder implements the upload-to-image pipeline:

 1. extract the uploaded tarball (pkg/archive)
 2. resolve the single top-level project directory, if any
 3. parse options.ini's [fats] section (gopkg.in/ini.v1)
 4. run the external build-plan generator
 5. validate the resulting name/version against the OCI repository
    name grammar
 6. run the external image builder (buildx) against the generated plan
 7. upsert the resulting Project

The plan-generator binary is downloaded once per process and cached
under /usr/local/bin, or under a configured fallback directory when
that path isn't writable.
*/
package builder
